package services

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/melih/howls-moving-docker/internal/core/domain"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("orchestrator", func() {

	var (
		ctx      context.Context
		runtime  *fakeRuntime
		recorder *fakeRecorder
		o        *Orchestrator
		start    = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

		services = []domain.ServiceTemplate{
			{Name: "web", Image: "nginx:latest", Ports: []int{80}},
		}
		templates = []domain.DecoyTemplate{{
			Name:         "ssh_decoy",
			Image:        "linuxserver/openssh-server",
			MinInstances: 2,
			MaxInstances: 2,
			PortRange:    domain.PortRange{Start: 2200, End: 2299},
			Monitoring: domain.LogMonitoring{
				LogFile:        "/config/logs/openssh/current",
				SuccessPattern: regexp.MustCompile(`Accepted password for (\S+) from (\S+)`),
				CheckInterval:  30 * time.Second,
			},
		}}
	)

	newOrchestrator := func(settings Settings) *Orchestrator {
		log := testLog()
		rng := testRand()
		decoys := NewDecoyManager(runtime, fixedCredentials{domain.Credentials{Username: "admin", Password: "pw"}}, rng, log)
		decoys.now = func() time.Time { return start }
		rotator := NewRotator(runtime, rng, domain.PortRange{Start: 30000, End: 40000}, settings.Network, 0, recorder, log)
		rotator.sleep = func(context.Context, time.Duration) error { return nil }

		orch := NewOrchestrator(OrchestratorOptions{
			Runtime:   runtime,
			Decoys:    decoys,
			Rotator:   rotator,
			Sentinel:  NewSentinel(runtime, recorder, log),
			Recorder:  recorder,
			Settings:  settings,
			Services:  services,
			Templates: templates,
			Log:       log,
		})
		orch.now = func() time.Time { return start }
		return orch
	}

	BeforeEach(func() {
		ctx = context.Background()
		runtime = newFakeRuntime()
		runtime.allowConflicts = true
		recorder = newFakeRecorder()
		o = newOrchestrator(Settings{
			Network:            "mtd_network",
			ProductionInterval: time.Minute,
			RecycleInterval:    5 * time.Minute,
			PollInterval:       10 * time.Second,
		})
	})

	It("is idle until started", func() {
		Expect(o.Status().State).To(Equal(StateIdle))
		Expect(o.Snapshot().Production).To(BeEmpty())
	})

	Context("starting", func() {

		It("creates the network and both fleets", func() {
			Expect(o.Start(ctx)).To(Succeed())
			Expect(runtime.networks).To(ConsistOf("mtd_network"))

			snap := o.Snapshot()
			Expect(snap.Production).To(HaveLen(1))
			Expect(snap.Production[0].Name).To(Equal("web"))
			Expect(snap.Decoys).To(HaveLen(2))

			status := o.Status()
			Expect(status.State).To(Equal(StateRunning))
			Expect(status.StartedAt).To(Equal(start))
			Expect(recorder.production).To(Equal(1))
			Expect(recorder.decoys).To(Equal(2))
		})

		It("fails when the network cannot be created", func() {
			runtime.failNetwork = true
			err := o.Start(ctx)
			Expect(err).To(MatchError(ContainSubstring("error creating network")))
			Expect(runtime.count("run")).To(BeZero())
			Expect(o.Status().State).To(Equal(StateIdle))
		})

		It("cleans up production containers when the decoys cannot be created", func() {
			runtime.failRun = func(spec domain.ContainerSpec) bool { return spec.Service == "ssh_decoy" }
			err := o.Start(ctx)
			Expect(err).To(MatchError(ContainSubstring("error creating dummy containers")))
			Expect(runtime.running()).To(BeEmpty())
		})

	})

	Context("ticking", func() {

		BeforeEach(func() {
			Expect(o.Start(ctx)).To(Succeed())
		})

		It("rotates once and recycles never within the first 65 seconds", func() {
			for elapsed := 10 * time.Second; elapsed <= 65*time.Second; elapsed += 10 * time.Second {
				o.Tick(ctx, start.Add(elapsed))
			}
			status := o.Status()
			Expect(status.Rotations).To(Equal(1))
			Expect(status.Recycles).To(BeZero())
			Expect(status.LastRotation).To(Equal(start.Add(time.Minute)))
			Expect(recorder.rotations["web"]).To(Equal([]bool{true}))
			Expect(recorder.recycles).To(BeEmpty())
		})

		It("recycles the decoys once their interval has passed", func() {
			before := o.Snapshot().Decoys
			for elapsed := 10 * time.Second; elapsed <= 5*time.Minute; elapsed += 10 * time.Second {
				o.Tick(ctx, start.Add(elapsed))
			}
			status := o.Status()
			Expect(status.Rotations).To(Equal(5))
			Expect(status.Recycles).To(Equal(1))
			Expect(recorder.recycles).To(Equal([]bool{true}))

			after := o.Snapshot().Decoys
			Expect(after).To(HaveLen(2))
			for i := range before {
				Expect(after[i].Container.ID).NotTo(Equal(before[i].Container.ID))
			}
		})

		It("keeps going with an empty decoy fleet when recycling fails", func() {
			runtime.failRun = func(spec domain.ContainerSpec) bool { return spec.Service == "ssh_decoy" }
			o.Tick(ctx, start.Add(5*time.Minute))
			Expect(o.Snapshot().Decoys).To(BeEmpty())
			Expect(o.Status().Recycles).To(Equal(1))
			Expect(recorder.recycles).To(Equal([]bool{false}))

			runtime.failRun = nil
			o.Tick(ctx, start.Add(10*time.Minute))
			Expect(o.Snapshot().Decoys).To(HaveLen(2))
		})

		It("reports detections from the decoy logs", func() {
			decoy := o.Snapshot().Decoys[0]
			runtime.execOutput[decoy.Container.ID] =
				"sshd[1]: Accepted password for alice from 10.0.0.5 port 1 ssh2\n"

			events := o.Tick(ctx, start.Add(30*time.Second))
			Expect(events).To(HaveLen(1))
			Expect(events[0].ActorIdentity).To(Equal("alice"))
			Expect(events[0].Source).To(Equal("10.0.0.5"))
			Expect(o.Detections()).To(Equal(events))
			Expect(o.Status().Detections).To(Equal(1))
			Expect(recorder.detections).To(Equal(map[string]int{"ssh_decoy": 1}))

			for _, d := range o.Snapshot().Decoys {
				Expect(d.LastCheck).To(Equal(start.Add(30 * time.Second)))
			}
		})

		It("keeps a bounded detection history", func() {
			decoy := o.Snapshot().Decoys[0]
			log := ""
			for i := 0; i < 200; i++ {
				log += fmt.Sprintf("Accepted password for user%d from 10.0.0.1\n", i)
			}
			runtime.execOutput[decoy.Container.ID] = log

			o.Tick(ctx, start.Add(30*time.Second))
			o.Tick(ctx, start.Add(60*time.Second))
			history := o.Detections()
			Expect(history).To(HaveLen(historySize))
			Expect(history[historySize-1].ActorIdentity).To(Equal("user199"))
			Expect(o.Status().Detections).To(Equal(400))
		})

		It("hands out snapshots that later ticks do not change", func() {
			snap := o.Snapshot()
			o.Tick(ctx, start.Add(time.Minute))
			Expect(snap.Production[0].ID).NotTo(Equal(o.Snapshot().Production[0].ID))
			Expect(snap.Decoys[0].LastCheck).To(Equal(start))
		})

	})

	Context("shutting down", func() {

		It("stops and removes every managed container", func() {
			Expect(o.Start(ctx)).To(Succeed())
			o.Shutdown(ctx)

			Expect(runtime.running()).To(BeEmpty())
			Expect(runtime.containers).To(BeEmpty())
			Expect(o.Status().State).To(Equal(StateShuttingDown))
			Expect(o.Snapshot().Production).To(BeEmpty())
			Expect(o.Snapshot().Decoys).To(BeEmpty())
		})

		It("keeps going past containers that fail to stop", func() {
			Expect(o.Start(ctx)).To(Succeed())
			runtime.failStop = func(c domain.RunningContainer) bool { return c.Name == "web" }
			o.Shutdown(ctx)
			Expect(runtime.running()).To(ConsistOf("web"))
		})

		It("tears the fleet down when the run context ends", func() {
			o = newOrchestrator(Settings{
				Network:            "mtd_network",
				ProductionInterval: time.Hour,
				RecycleInterval:    time.Hour,
				PollInterval:       5 * time.Millisecond,
			})
			rctx, cancel := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- o.Run(rctx) }()

			Eventually(func() State { return o.Status().State }).Should(Equal(StateRunning))
			cancel()
			Eventually(done).Should(Receive(BeNil()))
			Expect(runtime.running()).To(BeEmpty())
		})

		It("returns the start error from Run", func() {
			runtime.failNetwork = true
			Expect(o.Run(ctx)).To(MatchError(ContainSubstring("error creating network")))
		})

	})

})
