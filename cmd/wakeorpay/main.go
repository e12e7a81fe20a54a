package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/ikkeifujio/WakeOrPay/internal/alarm"
	"github.com/ikkeifujio/WakeOrPay/internal/config"
	"github.com/ikkeifujio/WakeOrPay/internal/gateway"
	"github.com/ikkeifujio/WakeOrPay/internal/history"
	"github.com/ikkeifujio/WakeOrPay/internal/model"
	"github.com/ikkeifujio/WakeOrPay/internal/store"
)

// consoleSound stands in for the platform audio player.
type consoleSound struct {
	playing bool
}

func (c *consoleSound) Play(soundName string, volume float64) {
	c.playing = true
	log.Printf("ALARM RINGING (sound=%s volume=%.1f)", soundName, volume)
}

func (c *consoleSound) Stop() {
	c.playing = false
	log.Println("alarm sound stopped")
}

func (c *consoleSound) Playing() bool { return c.playing }

// localScheduler delivers alarm triggers with in-process timers. The
// fire callback is bound after the service exists. Schedule and Cancel
// run from the stdin loop and from timer callbacks, so the timer map
// is mutex guarded.
type localScheduler struct {
	fire func(uuid.UUID)

	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer
}

func newLocalScheduler() *localScheduler {
	return &localScheduler{timers: make(map[uuid.UUID]*time.Timer)}
}

func (l *localScheduler) Schedule(a model.Alarm, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.timers[a.ID]; ok {
		t.Stop()
	}
	id := a.ID
	l.timers[id] = time.AfterFunc(time.Until(at), func() {
		if l.fire != nil {
			l.fire(id)
		}
	})
	log.Printf("scheduled %q for %s", a.Title, at.Format(time.RFC1123))
	return nil
}

func (l *localScheduler) Cancel(alarmID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.timers[alarmID]; ok {
		t.Stop()
		delete(l.timers, alarmID)
	}
	return nil
}

func main() {
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to open data directory: %v", err)
	}

	hist := history.NewService(st)

	var esc alarm.Escalator
	if cfg.RelayURL != "" {
		esc = gateway.NewClient(cfg.RelayURL, cfg.RelaySecret, cfg.DeviceID, cfg.EscalationWindow)
	} else {
		esc = gateway.Nop{}
	}

	sound := &consoleSound{}
	machine := alarm.NewMachine(sound, esc, st, cfg.VerificationWindow, cfg.EmergencyPhone,
		alarm.WithHistory(hist),
		alarm.WithTransitionHook(func(s model.Session) {
			log.Printf("session %s: %s", s.AlarmID, s.State)
		}),
	)

	sched := newLocalScheduler()
	svc := alarm.NewService(st, sched, machine)
	sched.fire = svc.OnNotificationDelivered

	// Resume an interrupted verification session, if any.
	machine.RecoverOnLaunch(svc.Alarms())

	fmt.Println("wakeorpay demo. Commands: add HH:MM <title>, list, test, stop <code>, done, snooze <id>, stats, quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, rest, _ := strings.Cut(line, " ")

		switch cmd {
		case "add":
			timeSpec, title, _ := strings.Cut(rest, " ")
			hh, mm, ok := parseClock(timeSpec)
			if !ok {
				fmt.Println("usage: add HH:MM <title>")
				continue
			}
			if title == "" {
				title = "Alarm"
			}
			a := model.NewAlarm(title, hh, mm)
			if err := svc.Add(a); err != nil {
				fmt.Printf("add failed: %v\n", err)
				continue
			}
			fmt.Printf("added %s (%s)\n", a.Title, a.ID)

		case "list":
			for _, a := range svc.Alarms() {
				state := "off"
				if a.Enabled {
					state = "on"
				}
				fmt.Printf("%s  %02d:%02d  %-20s %s\n", a.ID, a.Hour, a.Minute, a.Title, state)
			}

		case "test":
			alarms := svc.Alarms()
			if len(alarms) == 0 {
				fmt.Println("no alarms defined")
				continue
			}
			svc.OnManualTestTrigger(alarms[0])

		case "stop":
			if machine.AttemptStop(rest) {
				fmt.Println("verified, alarm dismissed")
			} else {
				fmt.Println("code rejected")
			}

		case "done":
			if err := svc.DismissRinging(); err != nil {
				fmt.Printf("dismiss failed: %v\n", err)
			} else {
				fmt.Println("alarm dismissed")
			}

		case "snooze":
			id, err := uuid.Parse(rest)
			if err != nil {
				fmt.Println("usage: snooze <alarm-id>")
				continue
			}
			if err := svc.Snooze(id); err != nil {
				fmt.Printf("snooze failed: %v\n", err)
			}

		case "stats":
			s := hist.Stats()
			fmt.Printf("wake-ups: %d  streak: %d (best %d)  success: %.0f%%  avg time to wake: %s\n",
				s.TotalWakeUps, s.CurrentStreak, s.LongestStreak, s.SuccessRate*100, s.AverageTimeToWake.Round(time.Second))

		case "quit", "exit":
			return

		default:
			fmt.Printf("unknown command %q\n", cmd)
		}
	}
}

func parseClock(spec string) (hh, mm int, ok bool) {
	h, m, found := strings.Cut(spec, ":")
	if !found {
		return 0, 0, false
	}
	hh, err1 := strconv.Atoi(h)
	mm, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, 0, false
	}
	return hh, mm, true
}
