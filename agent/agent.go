package agent

import (
	"math/rand"
	"sync"
	"time"

	"github.com/flowmason/flowmason/config"
	"github.com/flowmason/flowmason/container"
	"github.com/flowmason/flowmason/flow"
	"github.com/flowmason/flowmason/logger"
	"github.com/flowmason/flowmason/metadata"
	"github.com/flowmason/flowmason/rest"
	"github.com/flowmason/flowmason/trigger"
)

// Dependencies are the external collaborators. Zero values get replaced
// with in-process defaults so the binary runs standalone.
type Dependencies struct {
	StepExecutor flow.StepExecutor
	Conditions   flow.ConditionEvaluator
	Scheduler    trigger.Scheduler
}

type Agent struct {
	Config           config.Config
	container        *container.DIContiner
	metadataService  *metadata.Service
	executionService *flow.ExecutionService
	schedulePoller   *trigger.SchedulePoller
	httpServer       *rest.Server
	deps             Dependencies
	shutdown         bool
	shutdownLock     sync.Mutex
	wg               sync.WaitGroup
}

func New(conf config.Config, deps Dependencies) (*Agent, error) {
	if deps.StepExecutor == nil {
		deps.StepExecutor = flow.LoggingStepExecutor{}
	}
	if deps.Conditions == nil {
		deps.Conditions = flow.NewGojaConditionEvaluator()
	}
	if deps.Scheduler == nil {
		deps.Scheduler = trigger.NoopScheduler{}
	}
	a := &Agent{
		Config: conf,
		deps:   deps,
	}
	setup := []func() error{
		a.setupContainer,
		a.setupMetadataService,
		a.setupExecutionService,
		a.setupSchedulePoller,
		a.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupContainer() error {
	a.container = container.NewDiContainer()
	return a.container.Init(a.Config)
}

func (a *Agent) setupMetadataService() error {
	a.metadataService = metadata.NewService(a.container.GetMetadataStorage())
	return nil
}

func (a *Agent) setupExecutionService() error {
	minConfidence := a.Config.TriggerMinConfidence
	if minConfidence <= 0 {
		minConfidence = trigger.DEFAULT_MIN_CONFIDENCE
	}
	capacity := a.Config.RunWorkerCapacity
	if capacity <= 0 {
		capacity = 128
	}
	deps := flow.MachineDeps{
		Runs:           a.container.GetRunDao(),
		Checkpoints:    a.container.GetCheckpointDao(),
		Events:         a.container.GetEventDao(),
		Executor:       a.deps.StepExecutor,
		Conditions:     a.deps.Conditions,
		Timers:         a.container.GetTimerManager(),
		Rand:           rand.New(rand.NewSource(time.Now().UnixNano())),
		DefaultProfile: a.Config.DefaultRetryProfile,
	}
	a.executionService = flow.NewExecutionService(a.metadataService, deps, minConfidence, capacity, &a.wg)
	return nil
}

func (a *Agent) setupSchedulePoller() error {
	interval := a.Config.TriggerPollSeconds
	if interval <= 0 {
		interval = 5
	}
	a.schedulePoller = trigger.NewSchedulePoller(a.deps.Scheduler, interval, &a.wg)
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.metadataService, a.executionService)
	return err
}

// Start reconciles interrupted runs before anything else can create new
// activations, then brings up the workers and the transport.
func (a *Agent) Start() error {
	if err := a.executionService.RecoverInterrupted(); err != nil {
		return err
	}
	a.executionService.Start()
	a.schedulePoller.Start()
	go func() {
		if err := a.httpServer.Start(); err != nil {
			logger.Error("http server stopped")
			_ = a.Shutdown()
		}
	}()
	return nil
}

func (a *Agent) Shutdown() error {
	logger.Info("shutting down")
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true

	shutdown := []func() error{
		a.httpServer.Stop,
		func() error {
			a.schedulePoller.Stop()
			return nil
		},
		a.executionService.Stop,
		a.container.Close,
	}
	for _, fn := range shutdown {
		if err := fn(); err != nil {
			return err
		}
	}
	logger.Info("waiting for all services to shutdown...")
	a.wg.Wait()
	return nil
}
