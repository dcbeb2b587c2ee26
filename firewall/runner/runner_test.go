package runner

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ftypes "go.hackfix.me/openme/firewall/types"
)

type fakeExec struct {
	checkCode  int
	changeCode int
	startErr   error
	calls      []ftypes.Command
}

func (f *fakeExec) run(_ context.Context, cmd ftypes.Command) (int, []byte, error) {
	f.calls = append(f.calls, cmd)
	if f.startErr != nil {
		return -1, nil, f.startErr
	}
	if cmd.Args[0] == "check" {
		return f.checkCode, []byte("check output\n"), nil
	}
	return f.changeCode, []byte("change output\n"), nil
}

func testRequest(dir ftypes.Direction) ftypes.Request {
	return ftypes.Request{
		Rule: ftypes.Rule{
			Address:   netip.MustParseAddr("10.0.0.5"),
			Port:      80,
			Protocol:  ftypes.ProtocolTCP,
			Direction: dir,
		},
		Check:  ftypes.Command{Name: "fw", Args: []string{"check"}},
		Change: ftypes.Command{Name: "fw", Args: []string{"change"}},
	}
}

func TestRunnerRun(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		dir        ftypes.Direction
		checkCode  int
		changeCode int
		startErr   error
		expOutcome ftypes.Outcome
		expCalls   int
		expErr     string
	}{
		{
			name: "ok/add_missing", dir: ftypes.DirectionAdd,
			checkCode: 1, expOutcome: ftypes.OutcomeApplied, expCalls: 2,
		},
		{
			name: "ok/add_existing", dir: ftypes.DirectionAdd,
			checkCode: 0, expOutcome: ftypes.OutcomeSkipped, expCalls: 1,
		},
		{
			name: "ok/remove_existing", dir: ftypes.DirectionRemove,
			checkCode: 0, expOutcome: ftypes.OutcomeApplied, expCalls: 2,
		},
		{
			name: "ok/remove_missing", dir: ftypes.DirectionRemove,
			checkCode: 1, expOutcome: ftypes.OutcomeSkipped, expCalls: 1,
		},
		{
			name: "err/check_unexpected_status", dir: ftypes.DirectionAdd,
			checkCode: 2, expOutcome: ftypes.OutcomeFailed, expCalls: 1,
			expErr: "command 'fw check' exited with status 2",
		},
		{
			name: "err/change_failed", dir: ftypes.DirectionAdd,
			checkCode: 1, changeCode: 4, expOutcome: ftypes.OutcomeFailed, expCalls: 2,
			expErr: "command 'fw change' exited with status 4",
		},
		{
			name: "err/not_started", dir: ftypes.DirectionRemove,
			startErr: errors.New("executable file not found"), expOutcome: ftypes.OutcomeFailed, expCalls: 1,
			expErr: "failed running 'fw check': executable file not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fe := &fakeExec{checkCode: tt.checkCode, changeCode: tt.changeCode, startErr: tt.startErr}
			r := New(WithExec(fe.run), WithLogger(slog.New(slog.DiscardHandler)))

			outcome, err := r.Run(t.Context(), testRequest(tt.dir))
			assert.Equal(t, tt.expOutcome, outcome)
			assert.Len(t, fe.calls, tt.expCalls)
			if tt.expErr != "" {
				require.Error(t, err)
				assert.EqualError(t, err, tt.expErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestRunnerExitErrorOutput(t *testing.T) {
	t.Parallel()

	fe := &fakeExec{checkCode: 1, changeCode: 1}
	r := New(WithExec(fe.run), WithLogger(slog.New(slog.DiscardHandler)))

	_, err := r.Run(t.Context(), testRequest(ftypes.DirectionAdd))
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.ExitCode)
	assert.Equal(t, "change output", exitErr.Output)
	assert.Equal(t, "fw change", exitErr.Command.String())
}

func TestRunnerDryRun(t *testing.T) {
	t.Parallel()

	var logBuf bytes.Buffer
	fe := &fakeExec{}
	r := New(
		WithDryRun(true),
		WithExec(fe.run),
		WithLogger(slog.New(slog.NewTextHandler(&logBuf, nil))),
	)
	assert.True(t, r.DryRun())

	for _, dir := range []ftypes.Direction{ftypes.DirectionAdd, ftypes.DirectionRemove} {
		outcome, err := r.Run(t.Context(), testRequest(dir))
		require.NoError(t, err)
		assert.Equal(t, ftypes.OutcomeDryRun, outcome)
	}

	assert.Empty(t, fe.calls)
	assert.Contains(t, logBuf.String(), `msg="dry run"`)
	assert.Contains(t, logBuf.String(), `command="fw change"`)
	assert.Contains(t, logBuf.String(), `rule="add 10.0.0.5 -> 80/tcp"`)
}

func TestOSExec(t *testing.T) {
	t.Parallel()

	code, out, err := osExec(t.Context(), ftypes.Command{Name: "sh", Args: []string{"-c", "echo hi; exit 3"}})
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Equal(t, "hi\n", string(out))

	code, _, err = osExec(t.Context(), ftypes.Command{Name: "sh", Args: []string{"-c", "exit 0"}})
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	_, _, err = osExec(t.Context(), ftypes.Command{Name: "/nonexistent/openme-test-binary"})
	assert.Error(t, err)
}
