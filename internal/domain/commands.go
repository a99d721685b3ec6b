package domain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Command names accepted from clients.
const (
	CmdSetToken      = "set_token"
	CmdFetchMessages = "fetch_messages"
	CmdNewMessage    = "new_message"
	CmdShareFile     = "share_file"
)

// Frame commands sent to clients.
const (
	CmdError    = "error"
	CmdMessages = "messages"
)

// Error messages on the wire.
const (
	ErrMsgInvalidToken   = "Invalid token."
	ErrMsgInvalidCommand = "Invalid command."
	ErrMsgAuthorNotFound = "Author not found."
	ErrMsgRoomNotFound   = "Chat room not found."
	ErrMsgSendFailed     = "Failed to send message."
	ErrMsgBadExtension   = "Unsupported file extension."
)

// Command is the closed union of inbound commands. Frames are decoded
// once at the boundary into one of these variants and dispatched by type.
type Command interface {
	commandName() string
}

// SetTokenCommand authenticates the session with an opaque token.
type SetTokenCommand struct {
	Token string
}

// FetchMessagesCommand requests one page of room history, newest first.
type FetchMessagesCommand struct {
	RoomID     string
	PageNumber int
}

// NewMessageCommand posts a text message to a room.
type NewMessageCommand struct {
	From   string
	RoomID string
	Text   string
}

// ShareFileCommand posts a message carrying a file attachment. Data is
// the decoded file content; the wire carries it base64 (std) encoded.
type ShareFileCommand struct {
	From     string
	RoomID   string
	Filename string
	Size     int64
	Data     []byte
}

// UnknownCommand is any frame whose command tag is not recognised,
// including frames with no command field at all.
type UnknownCommand struct {
	Name string
}

func (SetTokenCommand) commandName() string      { return CmdSetToken }
func (FetchMessagesCommand) commandName() string { return CmdFetchMessages }
func (NewMessageCommand) commandName() string    { return CmdNewMessage }
func (ShareFileCommand) commandName() string     { return CmdShareFile }
func (c UnknownCommand) commandName() string     { return c.Name }

type rawFrame struct {
	Command    string   `json:"command"`
	Token      string   `json:"token"`
	RoomID     string   `json:"room_id"`
	PageNumber *int     `json:"page_number"`
	From       string   `json:"from"`
	Message    string   `json:"message"`
	File       *rawFile `json:"file"`
}

type rawFile struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Data     string `json:"data"`
}

// DecodeCommand parses a raw text frame into a Command. A malformed JSON
// object is an error; an unrecognised command tag is not — it decodes to
// UnknownCommand so the router can decide what to do with it.
func DecodeCommand(raw []byte) (Command, error) {
	var frame rawFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	switch frame.Command {
	case CmdSetToken:
		return SetTokenCommand{Token: frame.Token}, nil

	case CmdFetchMessages:
		page := 1
		if frame.PageNumber != nil {
			page = *frame.PageNumber
		}
		return FetchMessagesCommand{RoomID: frame.RoomID, PageNumber: page}, nil

	case CmdNewMessage:
		return NewMessageCommand{From: frame.From, RoomID: frame.RoomID, Text: frame.Message}, nil

	case CmdShareFile:
		if frame.File == nil {
			return nil, fmt.Errorf("share_file frame has no file object")
		}
		data, err := base64.StdEncoding.DecodeString(frame.File.Data)
		if err != nil {
			return nil, fmt.Errorf("share_file data is not valid base64: %w", err)
		}
		return ShareFileCommand{
			From:     frame.From,
			RoomID:   frame.RoomID,
			Filename: frame.File.Filename,
			Size:     frame.File.Size,
			Data:     data,
		}, nil

	default:
		return UnknownCommand{Name: frame.Command}, nil
	}
}

// ErrorFrame is the outbound error envelope, delivered only to the
// issuing session.
type ErrorFrame struct {
	Command string `json:"command"`
	Message string `json:"message"`
}

// NewErrorFrame builds an error frame.
func NewErrorFrame(message string) *ErrorFrame {
	return &ErrorFrame{Command: CmdError, Message: message}
}

// MessagesFrame carries one page of room history.
type MessagesFrame struct {
	Command  string        `json:"command"`
	Messages []MessageView `json:"messages"`
	MaxPages int           `json:"max_pages"`
}

// NewMessagesFrame builds a history page frame.
func NewMessagesFrame(views []MessageView, maxPages int) *MessagesFrame {
	return &MessagesFrame{Command: CmdMessages, Messages: views, MaxPages: maxPages}
}

// NewMessageFrame announces a committed message to every session in the
// room, the sender's own included.
type NewMessageFrame struct {
	Command string      `json:"command"`
	Message MessageView `json:"message"`
}

// NewNewMessageFrame builds a broadcast frame for a committed message.
func NewNewMessageFrame(view MessageView) *NewMessageFrame {
	return &NewMessageFrame{Command: CmdNewMessage, Message: view}
}
