package api

import (
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/audiolibrelab/memocapture/internal/config"
	"github.com/audiolibrelab/memocapture/internal/recording"
	"github.com/audiolibrelab/memocapture/internal/tasks"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: abc", tasks.ErrNoAudioFile), http.StatusNotFound, "no_audio_file"},
		{fmt.Errorf("%w: channels", config.ErrInvalidSettings), http.StatusBadRequest, "invalid_settings"},
		{fmt.Errorf("update task x: audioPath: %w", tasks.ErrReadOnlyField), http.StatusBadRequest, "read_only_field"},
		{&recording.PersistenceInconsistencyError{TaskID: "x", Err: errors.New("disk")}, http.StatusInternalServerError, "persistence_inconsistency"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		status, code := Classify(tt.err)
		if status != tt.status || code != tt.code {
			t.Errorf("Classify(%v) = %d %s, want %d %s", tt.err, status, code, tt.status, tt.code)
		}
	}

	for _, c := range errorClasses {
		if got := ErrorForCode(c.code); !errors.Is(got, c.err) && c.code != "already_recording" {
			t.Errorf("ErrorForCode(%s) = %v", c.code, got)
		}
	}
}

// The client and the terminal UI import this package; it must stay free of
// the service so they never link capture or hotkey backends.
func TestAPIDoesNotImportService(t *testing.T) {
	f, err := parser.ParseFile(token.NewFileSet(), "api.go", nil, parser.ImportsOnly)
	if err != nil {
		t.Fatal(err)
	}
	for _, imp := range f.Imports {
		path, _ := strconv.Unquote(imp.Path.Value)
		if strings.HasSuffix(path, "/internal/service") || strings.HasSuffix(path, "/internal/server") {
			t.Errorf("api imports %s", path)
		}
	}
}
