package executor

import "github.com/grantcarthew/linkctl/internal/ipc"

// Executor executes commands and returns responses.
// Implementations handle the transport mechanism (IPC or direct call).
type Executor interface {
	Execute(req ipc.Request) (ipc.Response, error)
	Close() error
}
