package cli

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL  = "http://localhost:8080"
	adminToken = ""
	timeout    = 60 * time.Second
)

// SetDefaults lets the binary seed the persistent flags from the environment.
func SetDefaults(server, token string) {
	if server != "" {
		serverURL = server
	}
	adminToken = token
}

func client() *Client {
	return NewClient(serverURL, adminToken, timeout)
}

func vmCommands() []cobra.Command {
	return []cobra.Command{
		{
			Use:   "list",
			Short: "List VMs known to the participant",
			Long:  `List every VM in the inventory with its flat addresses.`,
			Run: func(cmd *cobra.Command, args []string) {
				out, err := client().Get(cmd.Context(), "/api/vms", nil)
				logResult(*cmd, out, err)
			},
		},
	}
}

func flCommands() []cobra.Command {
	return []cobra.Command{
		{
			Use:   "deploy <path>...",
			Short: "Deploy a task bundle to a VM",
			Long:  `Upload the given files or directories to a VM and launch the entry point.`,
			Args:  cobra.MinimumNArgs(1),
			Run: func(cmd *cobra.Command, args []string) {
				vmID, _ := cmd.Flags().GetString("vm-id")
				root, _ := cmd.Flags().GetString("root")
				entryPoint, _ := cmd.Flags().GetString("entry-point")
				command, _ := cmd.Flags().GetString("command")
				requirements, _ := cmd.Flags().GetStringSlice("requirement")
				envPairs, _ := cmd.Flags().GetStringSlice("env")

				if vmID == "" {
					logErrorCmd(*cmd, fmt.Errorf("vm-id is required"))
					return
				}
				files, err := readFiles(root, args)
				if err != nil {
					logErrorCmd(*cmd, err)
					return
				}
				env, err := parseEnv(envPairs)
				if err != nil {
					logErrorCmd(*cmd, err)
					return
				}

				out, err := client().Post(cmd.Context(), "/api/fl/tasks", map[string]interface{}{
					"vm_id":        vmID,
					"files":        files,
					"entry_point":  entryPoint,
					"command":      command,
					"requirements": requirements,
					"env_config":   env,
				})
				logResult(*cmd, out, err)
			},
		},
		{
			Use:   "flower <path>...",
			Short: "Launch a Flower client on a VM",
			Long:  `Upload a Flower project and start its client against an aggregator.`,
			Args:  cobra.MinimumNArgs(1),
			Run: func(cmd *cobra.Command, args []string) {
				vmID, _ := cmd.Flags().GetString("vm-id")
				root, _ := cmd.Flags().GetString("root")
				aggregator, _ := cmd.Flags().GetString("aggregator")
				partitionID, _ := cmd.Flags().GetInt("partition-id")
				numPartitions, _ := cmd.Flags().GetInt("num-partitions")
				epochs, _ := cmd.Flags().GetInt("local-epochs")
				envPairs, _ := cmd.Flags().GetStringSlice("env")

				if vmID == "" {
					logErrorCmd(*cmd, fmt.Errorf("vm-id is required"))
					return
				}
				if aggregator == "" {
					logErrorCmd(*cmd, fmt.Errorf("aggregator is required"))
					return
				}
				files, err := readFiles(root, args)
				if err != nil {
					logErrorCmd(*cmd, err)
					return
				}
				env, err := parseEnv(envPairs)
				if err != nil {
					logErrorCmd(*cmd, err)
					return
				}

				out, err := client().Post(cmd.Context(), "/api/fl/execute", map[string]interface{}{
					"vm_id":              vmID,
					"aggregator_address": aggregator,
					"partition_id":       partitionID,
					"num_partitions":     numPartitions,
					"local_epochs":       epochs,
					"env_config":         env,
					"files":              files,
				})
				logResult(*cmd, out, err)
			},
		},
		{
			Use:   "task <task-id>",
			Short: "Show the status of a deployed task",
			Long:  `Show what the participant recorded when it deployed the task.`,
			Args:  cobra.ExactArgs(1),
			Run: func(cmd *cobra.Command, args []string) {
				out, err := client().Get(cmd.Context(), "/api/fl/tasks/"+url.PathEscape(args[0]), nil)
				logResult(*cmd, out, err)
			},
		},
		{
			Use:   "logs <task-id>",
			Short: "Fetch the log of a deployed task",
			Args:  cobra.ExactArgs(1),
			Run: func(cmd *cobra.Command, args []string) {
				vmID, _ := cmd.Flags().GetString("vm-id")
				tail, _ := cmd.Flags().GetInt("tail")
				if vmID == "" {
					logErrorCmd(*cmd, fmt.Errorf("vm-id is required"))
					return
				}
				query := url.Values{"vm_id": {vmID}}
				if tail > 0 {
					query.Set("tail", strconv.Itoa(tail))
				}
				out, err := client().Get(cmd.Context(), "/api/fl/logs/"+url.PathEscape(args[0]), query)
				logResult(*cmd, out, err)
			},
		},
	}
}

func localCommands() []cobra.Command {
	return []cobra.Command{
		{
			Use:   "run <path>...",
			Short: "Run the FL client on the participant host",
			Args:  cobra.MinimumNArgs(1),
			Run: func(cmd *cobra.Command, args []string) {
				root, _ := cmd.Flags().GetString("root")
				server, _ := cmd.Flags().GetString("server-address")
				epochs, _ := cmd.Flags().GetInt("local-epochs")

				if server == "" {
					logErrorCmd(*cmd, fmt.Errorf("server-address is required"))
					return
				}
				files, err := readFiles(root, args)
				if err != nil {
					logErrorCmd(*cmd, err)
					return
				}

				out, err := client().Post(cmd.Context(), "/api/fl/execute-local", map[string]interface{}{
					"server_address": server,
					"local_epochs":   epochs,
					"files":          files,
				})
				logResult(*cmd, out, err)
			},
		},
		{
			Use:   "status <task-id>",
			Short: "Show a local run with its recent output",
			Args:  cobra.ExactArgs(1),
			Run: func(cmd *cobra.Command, args []string) {
				tail, _ := cmd.Flags().GetInt("tail")
				query := url.Values{}
				if tail > 0 {
					query.Set("tail", strconv.Itoa(tail))
				}
				out, err := client().Get(cmd.Context(), "/api/fl/local/"+url.PathEscape(args[0]), query)
				logResult(*cmd, out, err)
			},
		},
	}
}

func NewVMCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "vm",
		Short: "Inventory of participant VMs",
	}
	vmCmd := vmCommands()
	for i := range vmCmd {
		cmd.AddCommand(&vmCmd[i])
	}
	return &cmd
}

func NewFLCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "fl",
		Short: "Deploy and inspect FL tasks on VMs",
	}

	flCmd := flCommands()
	for i := range flCmd {
		cmd.AddCommand(&flCmd[i])
	}

	for _, name := range []string{"deploy", "flower", "logs"} {
		c := &flCmd[indexOf(flCmd, name)]
		c.Flags().String("vm-id", "", "Target VM id")
	}

	deploy := &flCmd[indexOf(flCmd, "deploy")]
	deploy.Flags().String("root", ".", "Directory file names are made relative to")
	deploy.Flags().String("entry-point", "", "Script to run (default main.py)")
	deploy.Flags().String("command", "", "Shell command to run instead of the entry point")
	deploy.Flags().StringSlice("requirement", nil, "Python requirement to install (repeatable)")
	deploy.Flags().StringSlice("env", nil, "Environment variable KEY=VALUE (repeatable)")

	flower := &flCmd[indexOf(flCmd, "flower")]
	flower.Flags().String("root", ".", "Directory file names are made relative to")
	flower.Flags().String("aggregator", "", "Aggregator address host:port")
	flower.Flags().Int("partition-id", 0, "Data partition of this client")
	flower.Flags().Int("num-partitions", 1, "Total number of partitions")
	flower.Flags().Int("local-epochs", 3, "Local epochs per round")
	flower.Flags().StringSlice("env", nil, "Environment variable KEY=VALUE (repeatable)")

	logs := &flCmd[indexOf(flCmd, "logs")]
	logs.Flags().Int("tail", 0, "Only the last N lines")

	return &cmd
}

func NewLocalCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "local",
		Short: "Run the FL client on the participant host itself",
	}
	localCmd := localCommands()
	for i := range localCmd {
		cmd.AddCommand(&localCmd[i])
	}

	run := &localCmd[indexOf(localCmd, "run")]
	run.Flags().String("root", ".", "Directory file names are made relative to")
	run.Flags().String("server-address", "", "Aggregator address host:port")
	run.Flags().Int("local-epochs", 1, "Local epochs per round")

	status := &localCmd[indexOf(localCmd, "status")]
	status.Flags().Int("tail", 100, "Log lines to include")

	return &cmd
}

func NewTimelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Show recorded deployment events",
		Run: func(cmd *cobra.Command, args []string) {
			resourceType, _ := cmd.Flags().GetString("resource-type")
			resourceID, _ := cmd.Flags().GetString("resource-id")
			limit, _ := cmd.Flags().GetInt("limit")

			query := url.Values{}
			if resourceID != "" {
				query.Set("resource_id", resourceID)
				query.Set("resource_type", resourceType)
			}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			out, err := client().Get(cmd.Context(), "/api/timeline", query)
			logResult(*cmd, out, err)
		},
	}
	cmd.Flags().String("resource-type", "task", "Resource type to filter on")
	cmd.Flags().String("resource-id", "", "Resource id to filter on")
	cmd.Flags().Int("limit", 0, "Maximum number of events")
	return cmd
}

func NewHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the participant server is up",
		Run: func(cmd *cobra.Command, args []string) {
			out, err := client().Get(cmd.Context(), "/health", nil)
			if err == nil {
				logOKCmd(*cmd, "server is healthy")
			}
			logResult(*cmd, out, err)
		},
	}
}

// NewRootCmd assembles flctl. Commands run until interrupted.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "flctl",
		Short: "Client for the participant deployment server",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			cobra.OnFinalize(stop)
			cmd.SetContext(ctx)
		},
	}
	root.PersistentFlags().StringVarP(&serverURL, "server", "s", serverURL, "Participant server URL")
	root.PersistentFlags().StringVarP(&adminToken, "token", "t", adminToken, "Admin token")
	root.PersistentFlags().DurationVar(&timeout, "timeout", timeout, "Request timeout")

	root.AddCommand(NewVMCmd(), NewFLCmd(), NewLocalCmd(), NewTimelineCmd(), NewHealthCmd())
	return root
}

func indexOf(cmds []cobra.Command, name string) int {
	for i := range cmds {
		if cmds[i].Name() == name {
			return i
		}
	}
	panic("unknown command " + name)
}
