package stage

import (
	"context"
	"fmt"

	"github.com/conveyorci/conveyor/pkg/models"
)

// CommandStage runs each declared shell command in the checkout directory.
// The first failing command fails the stage.
type CommandStage struct{}

func (s *CommandStage) Execute(ctx context.Context, sc *Context, st *models.Stage) error {
	for _, cmd := range st.Commands {
		out, err := sc.Runner.RunShell(ctx, sc.Dir, nil, cmd)
		if err != nil {
			return fmt.Errorf("%s: command %q failed: %w\n%s", st.Name, cmd, err, out)
		}
	}
	return nil
}
