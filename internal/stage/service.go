package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/conveyorci/conveyor/internal/exec"
)

// Service is a database container provisioned for one matrix cell.
type Service struct {
	containerID string

	// Env holds the connection settings handed to the test process.
	Env []string
}

// provisionService starts the database container a cell needs and resolves
// its published port into the cell's environment. sqlite needs no service
// and returns nil.
func provisionService(ctx context.Context, runner exec.CommandRunner, database, cellKey string) (*Service, error) {
	name := "conveyor-" + cellKey

	var runCmd string
	var env []string
	switch database {
	case "sqlite":
		return nil, nil
	case "postgres":
		runCmd = fmt.Sprintf(
			"docker run -d --rm --name %s -e POSTGRES_USER=conveyor -e POSTGRES_PASSWORD=conveyor -e POSTGRES_DB=test -P postgres:15", name)
		env = []string{
			"CONVEYOR_DB_USER=conveyor",
			"CONVEYOR_DB_PASSWORD=conveyor",
			"CONVEYOR_DB_NAME=test",
		}
	case "mysql":
		runCmd = fmt.Sprintf(
			"docker run -d --rm --name %s -e MYSQL_USER=conveyor -e MYSQL_PASSWORD=conveyor -e MYSQL_DATABASE=test -e MYSQL_ROOT_PASSWORD=conveyor -P mysql:8", name)
		env = []string{
			"CONVEYOR_DB_USER=conveyor",
			"CONVEYOR_DB_PASSWORD=conveyor",
			"CONVEYOR_DB_NAME=test",
		}
	default:
		return nil, fmt.Errorf("no service definition for database %q", database)
	}

	out, err := runner.RunShell(ctx, "", nil, runCmd)
	if err != nil {
		return nil, fmt.Errorf("start %s service: %w\n%s", database, err, out)
	}
	containerID := strings.TrimSpace(string(out))

	host, err := servicePort(ctx, runner, name, database)
	if err != nil {
		runner.RunShell(ctx, "", nil, "docker stop "+name)
		return nil, err
	}
	env = append(env, "CONVEYOR_DB_HOST="+host)

	return &Service{containerID: containerID, Env: env}, nil
}

// servicePort resolves the published host port of the service container.
func servicePort(ctx context.Context, runner exec.CommandRunner, name, database string) (string, error) {
	internal := "5432"
	if database == "mysql" {
		internal = "3306"
	}
	out, err := runner.RunShell(ctx, "", nil, fmt.Sprintf("docker port %s %s", name, internal))
	if err != nil {
		return "", fmt.Errorf("resolve %s port: %w\n%s", database, err, out)
	}
	// docker port prints one binding per line; the first is enough.
	line := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	if line == "" {
		return "", fmt.Errorf("%s service published no port", database)
	}
	return line, nil
}

// Teardown stops the service container. A nil service is a no-op.
func (s *Service) Teardown(ctx context.Context, runner exec.CommandRunner) {
	if s == nil || s.containerID == "" {
		return
	}
	runner.RunShell(ctx, "", nil, "docker stop "+s.containerID)
}
