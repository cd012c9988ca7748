package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/thetooth/echoprobe/check"
	"github.com/thetooth/echoprobe/config"
	"github.com/thetooth/echoprobe/exporter"
	"github.com/thetooth/echoprobe/packet"
	"github.com/thetooth/echoprobe/session"
	"github.com/thetooth/echoprobe/statistics"
	"github.com/thetooth/echoprobe/util"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		logrus.Fatal("Unable to load configuration: ", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.Fatal("Unable to load configuration: ", err)
	}
	logrus.SetLevel(level)

	pinger, err := check.NewPinger(cfg.Host)
	if err != nil {
		logrus.Fatalf("%s: Name or service not known: %v", cfg.Host, err)
	}
	pinger.Size = cfg.PayloadCount
	pinger.Timeout = cfg.Timeout
	pinger.SetPrivileged(cfg.Privileged)

	if cfg.Interface != "" {
		src, err := util.BindIface(cfg.Interface)
		if err != nil {
			logrus.Fatal("Unable to bind interface ", cfg.Interface, ": ", err)
		}
		if err = pinger.SetSource(src); err != nil {
			logrus.Fatal("Unable to bind interface ", cfg.Interface, ": ", err)
		}
	}

	// Privilege problems are fatal before the first probe is counted
	if err = pinger.Preflight(); err != nil {
		logrus.Fatal("Unable to open ICMP socket: ", err)
	}

	pinger.OnRecv = func(pkt *check.Packet) {
		fmt.Printf("%d bytes from %v: icmp_seq=%d time=%.3f ms\n",
			pkt.Nbytes, pkt.IPAddr, pkt.Seq, float64(pkt.Rtt)/float64(time.Millisecond))
	}

	sess := session.New(cfg.Host, pinger)
	sess.Count = cfg.Count
	sess.Interval = cfg.IntervalDuration()
	if cfg.StatsFile != "" {
		sess.OnFinish = func(s statistics.Summary) {
			if err := writeStatistics(cfg.StatsFile, s); err != nil {
				logrus.Error("Unable to write statistics: ", err)
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics != "" {
		exp, err := exporter.New(cfg.Metrics, statistics.NewCollector(cfg.Host, sess.Statistics()))
		if err != nil {
			logrus.Fatal("Unable to start exporter: ", err)
		}
		if _, err = exp.Run(ctx); err != nil {
			logrus.Fatal("Unable to start exporter: ", err)
		}
	}

	// Control signals
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	logrus.WithFields(logrus.Fields{"session": sess.ID, "fast": cfg.Fast}).Debug("[ SESSION ] id: ", pinger.ID())
	fmt.Printf("PING %s (%s) %d bytes of data.\n", cfg.Host, pinger.IPAddr(), packet.UnitSize*cfg.PayloadCount)

	if err = sess.Run(ctx, c); err != nil {
		logrus.Fatal(err)
	}
}

func writeStatistics(path string, s statistics.Summary) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}

	return os.WriteFile(path, b, 0644)
}
