package getmedia

import (
	"os"
	"path/filepath"
	"testing"
)

// writeFakeTool writes a shell stand-in for Getmedia.exe. It reads the job
// id from its /f: argument and, when produce is set, writes the artifact
// into ../temp relative to its working directory.
func writeFakeTool(t *testing.T, dir string, produce bool) string {
	t.Helper()
	script := "#!/bin/sh\n" +
		"id=${1#/f:}\n" +
		"id=${id%.ini}\n"
	if produce {
		script += "mkdir -p ../temp\n" +
			": > \"../temp/${id}_pcm.wav\"\n" +
			"echo \"fetched ${id}\"\n" +
			"exit 0\n"
	} else {
		script += "echo \"no audio for ${id}\" >&2\nexit 3\n"
	}
	path := filepath.Join(dir, "fake-getmedia.sh")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake tool: %v", err)
	}
	return path
}
