package domain

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestDecodeCommandSetToken(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"command":"set_token","token":"abc123"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st, ok := cmd.(SetTokenCommand)
	if !ok {
		t.Fatalf("expected SetTokenCommand, got %T", cmd)
	}
	if st.Token != "abc123" {
		t.Errorf("token = %q, want %q", st.Token, "abc123")
	}
}

func TestDecodeCommandFetchMessages(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"command":"fetch_messages","room_id":"room-1","page_number":3}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fm, ok := cmd.(FetchMessagesCommand)
	if !ok {
		t.Fatalf("expected FetchMessagesCommand, got %T", cmd)
	}
	if fm.RoomID != "room-1" || fm.PageNumber != 3 {
		t.Errorf("got %+v", fm)
	}
}

func TestDecodeCommandFetchMessagesDefaultsToFirstPage(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"command":"fetch_messages","room_id":"room-1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fm := cmd.(FetchMessagesCommand)
	if fm.PageNumber != 1 {
		t.Errorf("page_number = %d, want 1", fm.PageNumber)
	}
}

func TestDecodeCommandNewMessage(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"command":"new_message","from":"u1","room_id":"room-1","message":"hello"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	nm, ok := cmd.(NewMessageCommand)
	if !ok {
		t.Fatalf("expected NewMessageCommand, got %T", cmd)
	}
	if nm.From != "u1" || nm.RoomID != "room-1" || nm.Text != "hello" {
		t.Errorf("got %+v", nm)
	}
}

func TestDecodeCommandShareFile(t *testing.T) {
	raw := []byte(`{"command":"share_file","from":"u1","room_id":"room-1","file":{"filename":"cat.png","size":4,"data":"aGVsbG8="}}`)
	cmd, err := DecodeCommand(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sf, ok := cmd.(ShareFileCommand)
	if !ok {
		t.Fatalf("expected ShareFileCommand, got %T", cmd)
	}
	if sf.Filename != "cat.png" || sf.Size != 4 {
		t.Errorf("got %+v", sf)
	}
	if !bytes.Equal(sf.Data, []byte("hello")) {
		t.Errorf("data = %q, want %q", sf.Data, "hello")
	}
}

func TestDecodeCommandShareFileRejectsMissingFile(t *testing.T) {
	if _, err := DecodeCommand([]byte(`{"command":"share_file","from":"u1","room_id":"room-1"}`)); err == nil {
		t.Fatal("expected error for share_file without file object")
	}
}

func TestDecodeCommandShareFileRejectsBadBase64(t *testing.T) {
	raw := []byte(`{"command":"share_file","room_id":"room-1","file":{"filename":"a.txt","size":1,"data":"%%%"}}`)
	if _, err := DecodeCommand(raw); err == nil {
		t.Fatal("expected error for non-base64 file data")
	}
}

func TestDecodeCommandUnknown(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"command":"dance"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	uc, ok := cmd.(UnknownCommand)
	if !ok {
		t.Fatalf("expected UnknownCommand, got %T", cmd)
	}
	if uc.Name != "dance" {
		t.Errorf("name = %q, want %q", uc.Name, "dance")
	}
}

func TestDecodeCommandNoCommandField(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"hello":"world"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := cmd.(UnknownCommand); !ok {
		t.Fatalf("expected UnknownCommand, got %T", cmd)
	}
}

func TestDecodeCommandMalformedJSON(t *testing.T) {
	if _, err := DecodeCommand([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}

func TestErrorFrameEncoding(t *testing.T) {
	data, err := json.Marshal(NewErrorFrame(ErrMsgInvalidToken))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["command"] != CmdError {
		t.Errorf("command = %q, want %q", got["command"], CmdError)
	}
	if got["message"] != "Invalid token." {
		t.Errorf("message = %q", got["message"])
	}
}

func TestMessagesFrameKeepsEmptySlice(t *testing.T) {
	data, err := json.Marshal(NewMessagesFrame([]MessageView{}, 5))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got struct {
		Command  string        `json:"command"`
		Messages []MessageView `json:"messages"`
		MaxPages int           `json:"max_pages"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Command != CmdMessages || got.MaxPages != 5 {
		t.Errorf("got %+v", got)
	}
	if got.Messages == nil {
		t.Error("messages should encode as an empty array, not null")
	}
}
