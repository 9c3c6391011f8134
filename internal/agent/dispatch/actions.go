package dispatch

import "fmt"

// Action is one coordination operation a Brain asks the loop to
// perform. Concrete types below are the only implementations.
type Action interface {
	describe() string
	isAction()
}

// SendMessage appends a message to a thread, optionally mentioning
// other agents.
type SendMessage struct {
	ThreadID string
	Body     string
	Mentions []string
}

func (a SendMessage) describe() string {
	return fmt.Sprintf("send_message thread=%s mentions=%v", a.ThreadID, a.Mentions)
}
func (SendMessage) isAction() {}

// CreateThread starts a new thread with the given participants.
type CreateThread struct {
	Name         string
	Participants []string
}

func (a CreateThread) describe() string {
	return fmt.Sprintf("create_thread name=%q participants=%v", a.Name, a.Participants)
}
func (CreateThread) isAction() {}

// AddParticipant adds an agent to a thread.
type AddParticipant struct {
	ThreadID string
	AgentID  string
}

func (a AddParticipant) describe() string {
	return fmt.Sprintf("add_participant thread=%s agent=%s", a.ThreadID, a.AgentID)
}
func (AddParticipant) isAction() {}

// RemoveParticipant removes an agent from a thread.
type RemoveParticipant struct {
	ThreadID string
	AgentID  string
}

func (a RemoveParticipant) describe() string {
	return fmt.Sprintf("remove_participant thread=%s agent=%s", a.ThreadID, a.AgentID)
}
func (RemoveParticipant) isAction() {}

// CloseThread finalizes a thread.
type CloseThread struct {
	ThreadID string
}

func (a CloseThread) describe() string {
	return fmt.Sprintf("close_thread thread=%s", a.ThreadID)
}
func (CloseThread) isAction() {}
