package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"servolink/internal/actuator"
	"servolink/internal/busreset"
	"servolink/internal/command"
	"servolink/internal/config"
	"servolink/internal/lifecycle"
	"servolink/internal/mqtt"
	"servolink/internal/servo"
	"servolink/internal/udp"
)

// Seams for tests. nil means the real PCA9685 and os/exec.
var (
	openDriverFn func(bus int, addr uint16) (actuator.Driver, error)
	resetRunner  busreset.Runner
)

type runtime struct {
	cfg config.Config

	reset   *busreset.Supervisor
	gw      *actuator.Gateway
	ctrl    *actuator.Controller
	handler *command.Handler
	life    *lifecycle.Controller

	// ready is closed once ingress is up; udpAddr is set before that.
	ready   chan struct{}
	udpAddr net.Addr
}

func newRuntime(cfg config.Config) (*runtime, error) {
	policy, err := servo.ParsePolicy(cfg.Servo.AnglePolicy)
	if err != nil {
		return nil, err
	}

	r := &runtime{cfg: cfg, ready: make(chan struct{})}

	var resetter actuator.Resetter
	if cfg.BusReset.Enabled() {
		cmds := make([]busreset.Command, 0, len(cfg.BusReset.Commands))
		for _, c := range cfg.BusReset.Commands {
			cmds = append(cmds, busreset.Command{Name: c.Command, Args: c.Args})
		}
		r.reset = busreset.NewSupervisor(busreset.Config{
			Commands: cmds,
			Timeout:  cfg.BusReset.Timeout,
			Runner:   resetRunner,
		})
		resetter = r.reset
	}

	r.gw = actuator.NewGateway(actuator.GatewayConfig{
		I2CBus:          cfg.PCA9685.I2CBus,
		Address:         cfg.PCA9685.Address,
		FrequencyHz:     cfg.PCA9685.FrequencyHz,
		OutputEnablePin: cfg.PCA9685.OutputEnableGPIO,
		Open:            openDriverFn,
	}, resetter)

	r.ctrl = actuator.NewController(r.gw, actuator.Config{
		AdmissionTimeout: cfg.Admission.Timeout,
		Mapper: servo.Mapper{
			MinDuty: cfg.Servo.MinDuty,
			MaxDuty: cfg.Servo.MaxDuty,
			Policy:  policy,
		},
	})
	r.handler = command.NewHandler(r.ctrl)
	r.life = lifecycle.New(r.ctrl, cfg.Shutdown.Timeout)
	return r, nil
}

// connect tries the configured number of times. Every failed attempt has
// already run the bus reset. Giving up leaves the gateway disconnected and
// every write reports actuator.ErrNotConnected.
func (r *runtime) connect(ctx context.Context) {
	for attempt := 0; ; attempt++ {
		err := r.gw.Connect(ctx)
		if err == nil {
			return
		}
		if attempt >= r.cfg.Connect.Retries {
			log.Printf("actuator unavailable after %d attempt(s); servo writes will be ignored", attempt+1)
			return
		}
		select {
		case <-time.After(r.cfg.Connect.RetryDelay):
		case <-ctx.Done():
			return
		}
	}
}

// Run connects the hardware, starts ingress, and blocks until ctx is done.
// The hardware is released before Run returns.
func (r *runtime) Run(ctx context.Context) error {
	r.connect(ctx)

	ingressCtx, stopIngress := context.WithCancel(context.Background())
	defer stopIngress()

	var wg sync.WaitGroup
	var closers []func() error

	startErr := r.startIngress(ingressCtx, &wg, &closers)
	if startErr != nil {
		log.Printf("ingress start failed: %v", startErr)
		r.life.Shutdown()
	}
	close(r.ready)

	err := r.life.Run(ctx)

	stopIngress()
	for _, c := range closers {
		_ = c()
	}
	wg.Wait()

	r.logSummary()
	return errors.Join(startErr, err)
}

func (r *runtime) startIngress(ctx context.Context, wg *sync.WaitGroup, closers *[]func() error) error {
	if r.cfg.UDP.Enable {
		l, err := udp.Listen(r.cfg.UDP.Listen, r.cfg.UDP.MaxDatagram)
		if err != nil {
			return err
		}
		*closers = append(*closers, l.Close)
		r.udpAddr = l.Addr()
		log.Printf("udp listening addr=%s reply=%v", l.Addr(), r.cfg.UDP.Reply)

		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Serve(ctx, r.handleDatagram)
			if err != nil {
				log.Printf("udp listener stopped: %v", err)
				r.life.Shutdown()
			}
		}()
	}

	if r.cfg.MQTT.Enable {
		sub, err := mqtt.Connect(mqtt.Config{
			Broker:         r.cfg.MQTT.Broker,
			ClientID:       r.cfg.MQTT.ClientID,
			Username:       r.cfg.MQTT.Username,
			Password:       r.cfg.MQTT.Password,
			ConnectTimeout: r.cfg.MQTT.ConnectTimeout,
		})
		if err != nil {
			return err
		}
		*closers = append(*closers, sub.Close)
		err = sub.Subscribe(r.cfg.MQTT.Topic, r.cfg.MQTT.QoS, func(topic string, payload []byte) {
			r.handler.Handle(ctx, "mqtt:"+topic, payload)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *runtime) handleDatagram(ctx context.Context, payload []byte, from net.Addr) []byte {
	res := r.handler.Handle(ctx, fmt.Sprintf("udp:%s", from), payload)
	if !r.cfg.UDP.Reply {
		return nil
	}
	return []byte(res.String())
}

func (r *runtime) logSummary() {
	sn := r.ctrl.Snapshot()
	log.Printf("actuator summary batches=%d instructions=%d timeouts=%d hardware_errors=%d last_error=%q",
		sn.Batches, sn.Instructions, sn.Timeouts, sn.HardwareErrors, sn.LastError)
	if r.reset != nil {
		rs := r.reset.Snapshot()
		log.Printf("busreset summary attempts=%d failures=%d last_error=%q", rs.Attempts, rs.Failures, rs.LastError)
	}
}
