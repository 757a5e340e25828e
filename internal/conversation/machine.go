// Package conversation is the Official's compose flow:
//
//	Idle -> AwaitingMessage -> AwaitingAttachments -> AwaitingConfirmation -> Idle
//
// Transition is pure. The bot executes the returned effects and persists the
// new state.
package conversation

import "relaybot/internal/dispatch"

// Choice names used in yes/no prompts.
const (
	ChoiceAttach  = "attach"
	ChoiceConfirm = "confirm"
)

// Prompt texts.
const (
	TextAskMessage     = "Please type in the messages you would like to send to the students."
	TextAskAttach      = "Do you want to attach any file"
	TextSendFiles      = "Please send your attachments now. When you're done, type /done to confirm. 🚀"
	TextFileAdded      = "Attachment added. Send another one or type /done to confirm."
	TextConfirm        = "Confirm this is the message you want to send"
	TextSending        = "Message is sending....."
	TextDeclined       = "Ok.... click on /restart to restart or /cancel to cancel"
	TextCanceled       = "operation canceled"
	TextNothingToAbort = "There is nothing to cancel."
)

type Kind string

const (
	KindIdle                 Kind = "idle"
	KindAwaitingMessage      Kind = "awaiting_message"
	KindAwaitingAttachments  Kind = "awaiting_attachments"
	KindAwaitingConfirmation Kind = "awaiting_confirmation"
)

type State interface{ Kind() Kind }

type Idle struct{}

type AwaitingMessage struct {
	Sender dispatch.Sender `json:"sender"`
}

// AwaitingAttachments first waits for the attach yes/no answer, then
// (Collecting) accepts media until /done.
type AwaitingAttachments struct {
	Sender      dispatch.Sender       `json:"sender"`
	Text        string                `json:"text"`
	Attachments []dispatch.Attachment `json:"attachments,omitempty"`
	Collecting  bool                  `json:"collecting,omitempty"`
}

type AwaitingConfirmation struct {
	Sender      dispatch.Sender       `json:"sender"`
	Text        string                `json:"text"`
	Attachments []dispatch.Attachment `json:"attachments,omitempty"`
}

func (Idle) Kind() Kind                 { return KindIdle }
func (AwaitingMessage) Kind() Kind      { return KindAwaitingMessage }
func (AwaitingAttachments) Kind() Kind  { return KindAwaitingAttachments }
func (AwaitingConfirmation) Kind() Kind { return KindAwaitingConfirmation }

type Event interface{ event() }

// Start begins a compose for an authorized Official (/send_message, /restart).
type Start struct{ Sender dispatch.Sender }
type Text struct{ Text string }
type Media struct{ Attachment dispatch.Attachment }
type AttachChoice struct{ Yes bool }
type Done struct{}
type Confirm struct{ Yes bool }
type Cancel struct{}

func (Start) event()        {}
func (Text) event()         {}
func (Media) event()        {}
func (AttachChoice) event() {}
func (Done) event()         {}
func (Confirm) event()      {}
func (Cancel) event()       {}

type Effect interface{ effect() }

// Prompt sends Text, with yes/no buttons for Choice when set.
type Prompt struct {
	Text   string
	Choice string
}

// Preview shows the draft and asks for confirmation.
type Preview struct{ Message dispatch.Message }

// Broadcast hands the confirmed message to the dispatcher.
type Broadcast struct{ Message dispatch.Message }

// Cleared means the stored state should be dropped.
type Cleared struct{}

func (Prompt) effect()    {}
func (Preview) effect()   {}
func (Broadcast) effect() {}
func (Cleared) effect()   {}

// Transition applies ev to s. Events that do not fit the current state leave
// it unchanged and produce no effects.
func Transition(s State, ev Event) (State, []Effect) {
	if s == nil {
		s = Idle{}
	}
	switch ev := ev.(type) {
	case Start:
		return AwaitingMessage{Sender: ev.Sender}, []Effect{Prompt{Text: TextAskMessage}}
	case Cancel:
		if _, idle := s.(Idle); idle {
			return s, []Effect{Prompt{Text: TextNothingToAbort}}
		}
		return Idle{}, []Effect{Cleared{}, Prompt{Text: TextCanceled}}
	}

	switch st := s.(type) {
	case AwaitingMessage:
		if ev, ok := ev.(Text); ok && ev.Text != "" {
			next := AwaitingAttachments{Sender: st.Sender, Text: ev.Text}
			return next, []Effect{Prompt{Text: TextAskAttach, Choice: ChoiceAttach}}
		}
	case AwaitingAttachments:
		switch ev := ev.(type) {
		case AttachChoice:
			if st.Collecting {
				break
			}
			if ev.Yes {
				st.Collecting = true
				return st, []Effect{Prompt{Text: TextSendFiles}}
			}
			return confirm(st)
		case Media:
			if !st.Collecting {
				break
			}
			st.Attachments = append(append([]dispatch.Attachment(nil), st.Attachments...), ev.Attachment)
			return st, []Effect{Prompt{Text: TextFileAdded}}
		case Done:
			if st.Collecting {
				return confirm(st)
			}
		}
	case AwaitingConfirmation:
		if ev, ok := ev.(Confirm); ok {
			if !ev.Yes {
				return Idle{}, []Effect{Cleared{}, Prompt{Text: TextDeclined}}
			}
			msg := dispatch.Message{Text: st.Text, User: st.Sender, Attachments: st.Attachments}
			return Idle{}, []Effect{Cleared{}, Prompt{Text: TextSending}, Broadcast{Message: msg}}
		}
	}
	return s, nil
}

func confirm(st AwaitingAttachments) (State, []Effect) {
	next := AwaitingConfirmation{Sender: st.Sender, Text: st.Text, Attachments: st.Attachments}
	msg := dispatch.Message{Text: st.Text, User: st.Sender, Attachments: st.Attachments}
	return next, []Effect{Prompt{Text: TextConfirm}, Preview{Message: msg}}
}
