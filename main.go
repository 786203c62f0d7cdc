package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/flowmason/flowmason/agent"
	"github.com/flowmason/flowmason/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type cfg struct {
	config.Config
}
type cli struct {
	cfg cfg
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().Int("http-port", 8080, "http port for rest endpoints")
	cmd.Flags().String("storage-impl", "memory", "implementation of underline storage (memory|redis|sqlite)")
	cmd.Flags().String("redis-addr", "localhost:6379", "comma separated list of redis host:port")
	cmd.Flags().String("namespace", "flowmason", "namespace used in redis storage")
	cmd.Flags().String("sqlite-path", "flowmason.db", "path of the sqlite database file")
	cmd.Flags().Int("run-worker-capacity", 128, "capacity of the run activation worker")
	cmd.Flags().Int("trigger-poll-seconds", 5, "schedule trigger polling interval")
	cmd.Flags().Float64("trigger-min-confidence", 0.6, "activation threshold for chat triggers")
	cmd.Flags().Int64("max-retry-delay-seconds", 3600, "upper bound of the retry timer wheel")
	cmd.Flags().String("retry-profile", "balanced", "default retry profile for steps")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	viper.SetConfigFile(configFile)

	if err = viper.ReadInConfig(); err != nil {
		// it's ok if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.StorageType = config.StorageType(viper.GetString("storage-impl"))
	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.SqliteConfig.Path = viper.GetString("sqlite-path")
	c.cfg.RunWorkerCapacity = viper.GetInt("run-worker-capacity")
	c.cfg.TriggerPollSeconds = viper.GetInt("trigger-poll-seconds")
	c.cfg.TriggerMinConfidence = viper.GetFloat64("trigger-min-confidence")
	c.cfg.MaxRetryDelaySeconds = viper.GetInt64("max-retry-delay-seconds")
	c.cfg.DefaultRetryProfile = viper.GetString("retry-profile")
	return nil
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	a, err := agent.New(c.cfg.Config, agent.Dependencies{})
	if err != nil {
		panic(err)
	}
	err = a.Start()
	if err != nil {
		panic(err)
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return a.Shutdown()
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "flowmason",
		PreRunE: cli.setupConfig,
		RunE:    cli.run,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
