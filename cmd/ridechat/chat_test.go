package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zulandar/ridechat/internal/chat"
	"github.com/zulandar/ridechat/internal/config"
)

type fakeComposer struct {
	submitted []string
	reloads   int
	submitErr error
	reloadErr error
}

func (f *fakeComposer) Submit(text string) error {
	f.submitted = append(f.submitted, text)
	return f.submitErr
}

func (f *fakeComposer) Reload() error {
	f.reloads++
	return f.reloadErr
}

// ---------------------------------------------------------------------------
// handleLine / readInput
// ---------------------------------------------------------------------------

func TestHandleLine_Submit(t *testing.T) {
	c := &fakeComposer{}
	var out bytes.Buffer
	if !handleLine("on my way", c, func() {}, &out) {
		t.Fatal("handleLine returned false for a message")
	}
	if len(c.submitted) != 1 || c.submitted[0] != "on my way" {
		t.Errorf("submitted = %v, want [on my way]", c.submitted)
	}
	if out.Len() != 0 {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestHandleLine_BlankIgnored(t *testing.T) {
	c := &fakeComposer{}
	var out bytes.Buffer
	handleLine("   ", c, func() {}, &out)
	if len(c.submitted) != 0 {
		t.Errorf("submitted = %v, want none", c.submitted)
	}
}

func TestHandleLine_SubmitError(t *testing.T) {
	c := &fakeComposer{submitErr: chat.ErrNotConnected}
	var out bytes.Buffer
	handleLine("hello", c, func() {}, &out)
	if !strings.Contains(out.String(), "not connected") {
		t.Errorf("output = %q, want the submit error", out.String())
	}
}

func TestHandleLine_Reload(t *testing.T) {
	c := &fakeComposer{reloadErr: errors.New("boom")}
	var out bytes.Buffer
	if !handleLine("/reload", c, func() {}, &out) {
		t.Fatal("handleLine returned false for /reload")
	}
	if c.reloads != 1 {
		t.Errorf("reloads = %d, want 1", c.reloads)
	}
	if !strings.Contains(out.String(), "boom") {
		t.Errorf("output = %q, want reload error", out.String())
	}
}

func TestHandleLine_Quit(t *testing.T) {
	c := &fakeComposer{}
	quit := false
	var out bytes.Buffer
	if handleLine(" /quit ", c, func() { quit = true }, &out) {
		t.Error("handleLine returned true for /quit")
	}
	if !quit {
		t.Error("quit was not called")
	}
}

func TestReadInput_StopsAtQuit(t *testing.T) {
	c := &fakeComposer{}
	in := strings.NewReader("hi\n\n/quit\nnever sent\n")
	var out bytes.Buffer
	readInput(t.Context(), in, c, func() {}, &out)

	if len(c.submitted) != 1 || c.submitted[0] != "hi" {
		t.Errorf("submitted = %v, want [hi]", c.submitted)
	}
}

// ---------------------------------------------------------------------------
// sessionToken / newLogger
// ---------------------------------------------------------------------------

func TestSessionToken(t *testing.T) {
	cfg := &config.Config{API: config.APIConfig{SessionToken: "from-file"}}

	env := map[string]string{}
	getenv := func(k string) string { return env[k] }

	if got := sessionToken(cfg, getenv); got != "from-file" {
		t.Errorf("sessionToken = %q, want from-file", got)
	}
	env[sessionTokenEnv] = " from-env "
	if got := sessionToken(cfg, getenv); got != "from-env" {
		t.Errorf("sessionToken = %q, want from-env", got)
	}
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ridechat.log")
	cfg := &config.Config{Log: config.LogConfig{Mode: "production", File: path, HashSalt: "s"}}

	log, err := newLogger(cfg)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	log.Info("hello", "session_token", "secret-value")
	log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Errorf("log file = %q, want the message", data)
	}
	if strings.Contains(string(data), "secret-value") {
		t.Errorf("log file leaked the token: %q", data)
	}
}

func TestChatCmd_MissingSessionToken(t *testing.T) {
	t.Setenv(sessionTokenEnv, "")
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir, filepath.Join(dir, "chat.db"), "")

	cmd := newRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs([]string{"chat", "42", "-c", cfgPath})

	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected error without a session token")
	}
	if !strings.Contains(err.Error(), sessionTokenEnv) {
		t.Errorf("error = %v, want mention of %s", err, sessionTokenEnv)
	}
}
