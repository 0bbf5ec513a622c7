package cli

import (
	"encoding/json"
	"time"

	"github.com/grantcarthew/linkctl/internal/executor"
	"github.com/grantcarthew/linkctl/internal/ipc"
)

// ExecutorFactory creates executors and checks daemon status.
type ExecutorFactory interface {
	NewExecutor() (executor.Executor, error)
	IsDaemonRunning() bool
}

// defaultFactory uses IPC executor.
type defaultFactory struct{}

func (f defaultFactory) NewExecutor() (executor.Executor, error) {
	return executor.NewIPCExecutor(socketPath())
}

func (f defaultFactory) IsDaemonRunning() bool {
	return ipc.IsDaemonRunningAt(socketPath())
}

// directFactory runs requests against an in-process handler. The daemon's
// REPL uses it so CLI commands typed there skip the socket.
type directFactory struct {
	handler ipc.Handler
}

// NewDirectExecutorFactory returns a factory that calls handler directly.
func NewDirectExecutorFactory(handler ipc.Handler) ExecutorFactory {
	return directFactory{handler: handler}
}

func (f directFactory) NewExecutor() (executor.Executor, error) {
	return executor.NewDirectExecutor(f.handler), nil
}

func (f directFactory) IsDaemonRunning() bool {
	return true
}

// execFactory is the package-level factory, replaceable for testing.
var execFactory ExecutorFactory = defaultFactory{}

// SetExecutorFactory sets the executor factory.
func SetExecutorFactory(f ExecutorFactory) {
	execFactory = f
}

// ResetExecutorFactory resets to the default factory.
func ResetExecutorFactory() {
	execFactory = defaultFactory{}
}

// errDaemonNotRunning is the message shown when a command needs the daemon.
const errDaemonNotRunning = "daemon not running (start with: linkctl start)"

// execute sends one request to the daemon and returns the response data.
// Failures are printed and returned as printed errors.
func execute(req ipc.Request) (json.RawMessage, error) {
	if !execFactory.IsDaemonRunning() {
		return nil, outputError(errDaemonNotRunning)
	}

	exec, err := execFactory.NewExecutor()
	if err != nil {
		return nil, outputError(err.Error())
	}
	defer func() { _ = exec.Close() }()

	debugRequest(req)
	start := time.Now()

	resp, err := exec.Execute(req)

	debugResponse(req.Cmd, err == nil && resp.OK, len(resp.Data), time.Since(start))

	if err != nil {
		return nil, outputError(err.Error())
	}
	if !resp.OK {
		return nil, outputError(resp.Error)
	}
	return resp.Data, nil
}

// executeInto is execute followed by decoding the data into v.
func executeInto(req ipc.Request, v any) error {
	data, err := execute(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return outputError(err.Error())
	}
	return nil
}
