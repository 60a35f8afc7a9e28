// Command ecs-sandbox runs a small headless simulation on the runtime: entities with a position and
// velocity drift around, lose health at a fixed rate, and are destroyed when their health reaches
// zero. It is used to eyeball scheduling and to profile the runtime.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/argus-labs/ecsruntime/pkg/ecs"
	"github.com/argus-labs/ecsruntime/pkg/telemetry"
	"github.com/goccy/go-json"
	"github.com/pkg/profile"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

type sandboxFlags struct {
	entities int
	ticks    int
	interval time.Duration
	profile  string
	where    string
	debug    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags sandboxFlags

	cmd := &cobra.Command{
		Use:           "ecs-sandbox",
		Short:         "Run a headless simulation on the ECS runtime",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, flags)
		},
	}

	cmd.Flags().IntVar(&flags.entities, "entities", 1000, "number of entities to spawn")
	cmd.Flags().IntVar(&flags.ticks, "ticks", 600, "number of ticks to run, 0 runs until interrupted")
	cmd.Flags().DurationVar(&flags.interval, "interval", 16*time.Millisecond, "tick interval")
	cmd.Flags().StringVar(&flags.profile, "profile", "", "write a profile: cpu, mem or trace")
	cmd.Flags().StringVar(&flags.where, "where", "health.value > 50", "search filter printed at the end")
	cmd.Flags().BoolVar(&flags.debug, "debug-validate", false, "validate the world after every apply")
	return cmd
}

func run(ctx context.Context, flags sandboxFlags) error {
	stopProfile, err := startProfile(flags.profile)
	if err != nil {
		return err
	}
	if stopProfile != nil {
		defer stopProfile()
	}

	tel, err := telemetry.New(telemetry.Options{ServiceName: "ecs-sandbox"})
	if err != nil {
		return eris.Wrap(err, "failed to set up telemetry")
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	logger := tel.GetLogger("sandbox")
	world, err := ecs.NewWorld(ecs.WorldOptions{
		Name:          "sandbox",
		DebugValidate: flags.debug,
		Logger:        &logger,
		Tracer:        tel.Tracer,
	})
	if err != nil {
		return err
	}

	ids, err := registerComponents(world)
	if err != nil {
		return err
	}
	if err := defineSystems(world, ids); err != nil {
		return err
	}
	spawn(world, ids, flags.entities)

	if flags.ticks == 0 {
		err = world.Run(ctx, flags.interval)
	} else {
		err = runTicks(ctx, world, flags)
	}
	if err != nil {
		return err
	}

	// Heal the survivors on demand; RunSystem applies the queued changes before returning.
	if err := world.RunSystem(ctx, "heal"); err != nil {
		return err
	}

	results, err := world.Search(ecs.SearchParam{
		Find:  []string{"position", "health"},
		Match: ecs.MatchContains,
		Where: flags.where,
		Limit: 5,
	})
	if err != nil {
		return err
	}
	return printSummary(world, results)
}

// runTicks runs a fixed number of ticks at the configured interval.
func runTicks(ctx context.Context, world *ecs.World, flags sandboxFlags) error {
	ticker := time.NewTicker(flags.interval)
	defer ticker.Stop()

	for range flags.ticks {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := world.Tick(ctx, flags.interval); err != nil {
			return err
		}
	}
	return nil
}

func startProfile(kind string) (func(), error) {
	var mode func(*profile.Profile)
	switch kind {
	case "":
		return nil, nil
	case "cpu":
		mode = profile.CPUProfile
	case "mem":
		mode = profile.MemProfileAllocs
	case "trace":
		mode = profile.TraceProfile
	default:
		return nil, eris.Errorf("unknown profile %q", kind)
	}
	p := profile.Start(mode, profile.ProfilePath("."), profile.NoShutdownHook)
	return p.Stop, nil
}

func printSummary(world *ecs.World, results []map[string]any) error {
	state, err := world.DebugState()
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(map[string]any{
		"state":  json.RawMessage(state),
		"search": results,
	}, "", "  ")
	if err != nil {
		return eris.Wrap(err, "failed to marshal summary")
	}
	fmt.Println(string(out)) //nolint:forbidigo // command output
	return nil
}
