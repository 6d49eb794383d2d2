package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ProjectRStore/itemsync/internal/action"
	"github.com/ProjectRStore/itemsync/internal/channel"
	"github.com/ProjectRStore/itemsync/internal/session"
	"github.com/ProjectRStore/itemsync/pkg/core"
)

var errQuit = errors.New("quit")

const usage = `commands:
  hand <left|right> <x> <y> <z>     move a hand anchor
  hand <left|right> off             stop tracking a hand
  avatar <x> <y> <z>                set the avatar position
  grab <left|right>                 grab the nearest free object
  release <left|right>              release and throw
  act <left|right> <secondary|trigger> [value] [hold]
  sell <button>                     press a sell machine button
  buy <index>                       purchase a catalog item
  spawn <prefab> <x> <y> <z>        spawn a prefab for everyone
  status                            print the session status
  quit`

// command is one parsed console line, applied on the frame loop.
type command func(s *session.Session, anchors *session.Anchors, out io.Writer) error

// readCommands parses stdin lines onto ch until r is exhausted.
func readCommands(r io.Reader, ch channel.Sender[command], errOut io.Writer) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cmd, err := parseCommand(line)
		if err != nil {
			fmt.Fprintln(errOut, err)
			continue
		}
		ch.Send(cmd)
	}
	ch.Send(func(*session.Session, *session.Anchors, io.Writer) error { return errQuit })
}

func parseCommand(line string) (command, error) {
	f := strings.Fields(line)
	args := f[1:]
	switch strings.ToLower(f[0]) {
	case "hand":
		if len(args) == 2 && strings.EqualFold(args[1], "off") {
			hand, err := core.ParseHand(args[0])
			if err != nil {
				return nil, err
			}
			return func(_ *session.Session, a *session.Anchors, _ io.Writer) error {
				a.Clear(hand)
				return nil
			}, nil
		}
		if len(args) != 4 {
			return nil, fmt.Errorf("hand: want <hand> <x> <y> <z>")
		}
		hand, err := core.ParseHand(args[0])
		if err != nil {
			return nil, err
		}
		p, err := parsePose(args[1:])
		if err != nil {
			return nil, err
		}
		return func(_ *session.Session, a *session.Anchors, _ io.Writer) error {
			a.Set(hand, p)
			return nil
		}, nil

	case "avatar":
		p, err := parsePose(args)
		if err != nil {
			return nil, err
		}
		return func(_ *session.Session, a *session.Anchors, _ io.Writer) error {
			a.SetAvatar(p.Position)
			return nil
		}, nil

	case "grab", "release":
		if len(args) != 1 {
			return nil, fmt.Errorf("%s: want <hand>", f[0])
		}
		hand, err := core.ParseHand(args[0])
		if err != nil {
			return nil, err
		}
		grab := strings.EqualFold(f[0], "grab")
		return func(s *session.Session, _ *session.Anchors, out io.Writer) error {
			var (
				id  core.ObjectID
				err error
			)
			if grab {
				id, err = s.TryGrabNearest(hand)
			} else {
				id, err = s.ReleaseHeld(hand)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s: object %d\n", f[0], hand, id)
			return nil
		}, nil

	case "act":
		if len(args) < 2 || len(args) > 4 {
			return nil, fmt.Errorf("act: want <hand> <kind> [value] [hold]")
		}
		hand, err := core.ParseHand(args[0])
		if err != nil {
			return nil, err
		}
		kind, err := core.ParseActionKind(args[1])
		if err != nil {
			return nil, err
		}
		value, mode := 1.0, action.OnPress
		for _, a := range args[2:] {
			if strings.EqualFold(a, "hold") {
				mode = action.WhileHeld
				continue
			}
			if value, err = strconv.ParseFloat(a, 64); err != nil {
				return nil, fmt.Errorf("act: bad value %q", a)
			}
		}
		return func(s *session.Session, _ *session.Anchors, out io.Writer) error {
			rep, err := s.SendAction(hand, kind, value, mode)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %d handlers\n", kind, rep.Invoked)
			return rep.Err()
		}, nil

	case "sell", "buy":
		if len(args) != 1 {
			return nil, fmt.Errorf("%s: want a number", f[0])
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, fmt.Errorf("%s: bad number %q", f[0], args[0])
		}
		sell := strings.EqualFold(f[0], "sell")
		return func(s *session.Session, _ *session.Anchors, out io.Writer) error {
			var (
				id  string
				err error
			)
			if sell {
				id, err = s.RequestSell(n)
			} else {
				id, err = s.RequestPurchase(n)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s request %s sent\n", f[0], id)
			return nil
		}, nil

	case "spawn":
		if len(args) != 4 {
			return nil, fmt.Errorf("spawn: want <prefab> <x> <y> <z>")
		}
		prefab := args[0]
		p, err := parsePose(args[1:])
		if err != nil {
			return nil, err
		}
		return func(s *session.Session, _ *session.Anchors, out io.Writer) error {
			id, err := s.RequestSpawn(prefab, p)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "spawn request %s sent\n", id)
			return nil
		}, nil

	case "status":
		return func(s *session.Session, _ *session.Anchors, out io.Writer) error {
			st := s.Status()
			fmt.Fprintf(out, "actor %d coordinator %d peers %d objects %d held %d balance %d sell %s\n",
				st.Actor, st.Coordinator, st.Peers, st.Objects, st.Held, st.Balance, st.SellState)
			return nil
		}, nil

	case "quit", "exit":
		return func(*session.Session, *session.Anchors, io.Writer) error { return errQuit }, nil

	case "help":
		return func(_ *session.Session, _ *session.Anchors, out io.Writer) error {
			fmt.Fprintln(out, usage)
			return nil
		}, nil
	}
	return nil, fmt.Errorf("unknown command %q, try help", f[0])
}

func parsePose(args []string) (core.Pose, error) {
	if len(args) != 3 {
		return core.Pose{}, fmt.Errorf("want <x> <y> <z>")
	}
	var v [3]float64
	for i, a := range args {
		f, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return core.Pose{}, fmt.Errorf("bad coordinate %q", a)
		}
		v[i] = f
	}
	return core.At(v[0], v[1], v[2]), nil
}
