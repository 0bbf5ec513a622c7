package executor

import "github.com/grantcarthew/linkctl/internal/ipc"

// IPCExecutor executes commands via Unix socket IPC.
type IPCExecutor struct {
	client *ipc.Client
}

// NewIPCExecutor creates a new IPC executor connected to the daemon at
// socketPath, or at the default socket path when socketPath is empty.
func NewIPCExecutor(socketPath string) (*IPCExecutor, error) {
	if socketPath == "" {
		socketPath = ipc.DefaultSocketPath()
	}
	client, err := ipc.DialPath(socketPath)
	if err != nil {
		return nil, err
	}
	return &IPCExecutor{client: client}, nil
}

// Execute sends a request via IPC and returns the response.
func (e *IPCExecutor) Execute(req ipc.Request) (ipc.Response, error) {
	return e.client.Send(req)
}

// Close closes the IPC connection.
func (e *IPCExecutor) Close() error {
	return e.client.Close()
}
