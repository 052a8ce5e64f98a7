package gdbremote

import (
	"errors"
	"testing"
)

func TestParseRegisterResponse(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		expected uint32
		wantErr  bool
	}{
		{
			name:     "little endian",
			reply:    "78563412",
			expected: 0x12345678,
		},
		{
			name:     "64-bit register truncated",
			reply:    "0000002001000000",
			expected: 0x20000000,
		},
		{
			name:    "unavailable",
			reply:   "xxxxxxxx",
			wantErr: true,
		},
		{
			name:    "stub error",
			reply:   "E0e",
			wantErr: true,
		},
		{
			name:    "empty",
			reply:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseRegisterResponse("read register", tt.reply)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got 0x%08X", result)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("got 0x%08X, want 0x%08X", result, tt.expected)
			}
		})
	}
}

func TestParseResponseRemoteError(t *testing.T) {
	_, err := ParseResponse("write memory", "E0e")
	if !IsRemoteError(err) {
		t.Fatalf("ParseResponse() error = %v, want RemoteError", err)
	}
	var re *RemoteError
	errors.As(err, &re)
	if re.Code != 0x0E || re.Command != "write memory" {
		t.Errorf("RemoteError = %+v", re)
	}

	if _, err := ParseResponse("read memory", "E0ab"); err != nil {
		t.Errorf("four character reply treated as error: %v", err)
	}
}

func TestParseOKResponse(t *testing.T) {
	if err := ParseOKResponse("write register", "OK"); err != nil {
		t.Errorf("ParseOKResponse(OK) error = %v", err)
	}
	var ue *UnexpectedReplyError
	if err := ParseOKResponse("write register", ""); !errors.As(err, &ue) {
		t.Errorf("ParseOKResponse(empty) error = %v, want UnexpectedReplyError", err)
	}
}

func TestParseMemoryResponse(t *testing.T) {
	data, err := ParseMemoryResponse("read memory", "deadbeef", 4)
	if err != nil {
		t.Fatal(err)
	}
	if data[0] != 0xDE || data[3] != 0xEF {
		t.Errorf("got % X", data)
	}

	if _, err := ParseMemoryResponse("read memory", "dead", 4); err == nil {
		t.Error("short reply accepted")
	}
}

func TestParseStopReply(t *testing.T) {
	tests := []struct {
		reply    string
		expected StopReply
		wantErr  bool
	}{
		{reply: "S05", expected: StopReply{Signal: 5}},
		{reply: "T05thread:2;core:1;", expected: StopReply{Signal: 5, Thread: 2}},
		{reply: "W00", expected: StopReply{Signal: 0, Exited: true}},
		{reply: "X09", expected: StopReply{Signal: 9, Exited: true}},
		{reply: "OK", wantErr: true},
		{reply: "Sxx", wantErr: true},
		{reply: "deadbeef", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			result, err := ParseStopReply(tt.reply)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %+v", result)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("got %+v, want %+v", result, tt.expected)
			}
		})
	}
}
