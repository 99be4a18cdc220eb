package cli

// This file contains the devices command for probing resources.

import (
	"context"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/sourcegraph/conc/iter"
	"github.com/urfave/cli/v2"

	"github.com/perfgo/perfshard/report"
	"github.com/perfgo/perfshard/resource"
)

const probeTimeout = time.Minute

func (a *App) devices(c *cli.Context) error {
	resources, err := a.openResources(c)
	if err != nil {
		return configExit(err)
	}
	defer closeResources(resources)

	ctx, cancel := context.WithTimeout(c.Context, probeTimeout)
	defer cancel()

	healthy := iter.Map(resources, func(r *resource.Resource) bool {
		return (*r).IsHealthy(ctx)
	})

	report.New(os.Stdout, isatty.IsTerminal(os.Stdout.Fd())).Resources(resources)

	for i, ok := range healthy {
		if !ok {
			return cli.Exit("some resources are not healthy", exitFailed)
		}
		a.logger.Debug().Str("resource", resources[i].Identity()).Msg("Resource healthy")
	}
	return nil
}
