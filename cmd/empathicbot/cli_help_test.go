package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootHelpListsSubcommands(t *testing.T) {
	output, err := runRootCommandForTest("--help")
	if err != nil {
		t.Fatalf("execute --help: %v\nOutput:\n%s", err, output)
	}

	for _, want := range []string{"serve", "chat", "onboard", "status", "version"} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q subcommand\nOutput:\n%s", want, output)
		}
	}
	if strings.Contains(output, "docs") {
		t.Errorf("hidden docs command leaked into help output")
	}
}

func TestRootWithoutSubcommandFails(t *testing.T) {
	_, err := runRootCommandForTest()
	if err == nil {
		t.Fatalf("expected error when no subcommand given")
	}
	if !strings.Contains(err.Error(), "subcommand is required") {
		t.Errorf("error = %v", err)
	}
}

func TestVersionFlag(t *testing.T) {
	output, err := runRootCommandForTest("--version")
	if err != nil {
		t.Fatalf("execute --version: %v", err)
	}
	// Version output goes to stdout via printVersion, so only assert the
	// command succeeded and produced no usage text.
	if strings.Contains(output, "Usage:") {
		t.Errorf("--version printed usage: %s", output)
	}
}

func runRootCommandForTest(args ...string) (string, error) {
	root := buildRootCommand(false)
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}
