// Package redistest serves the few redis commands this service issues from
// memory, through a go-redis hook, so tests can run without a redis server.
package redistest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	mu       sync.Mutex
	clock    time.Time
	values   map[string]string
	expires  map[string]time.Time
	commands []string
	// FailCommand makes every command with this name fail with Err.
	FailCommand string
	Err         error
}

// NewClient returns a client whose commands never reach the network.
func NewClient() (*redis.Client, *Store) {
	s := &Store{
		clock:   time.Now(),
		values:  map[string]string{},
		expires: map[string]time.Time{},
	}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	client.AddHook(s)
	return client, s
}

func (s *Store) DialHook(next redis.DialHook) redis.DialHook { return next }

func (s *Store) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := s.exec(cmd)
		cmd.SetErr(err)
		return err
	}
}

func (s *Store) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		var first error
		for _, cmd := range cmds {
			err := s.exec(cmd)
			cmd.SetErr(err)
			if err != nil && !errors.Is(err, redis.Nil) && first == nil {
				first = err
			}
		}
		return first
	}
}

// Advance moves the store clock; keys past their expiry disappear.
func (s *Store) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = s.clock.Add(d)
}

// TTL reports the remaining lifetime of key; ok is false when the key has no expiry or does not exist.
func (s *Store) TTL(key string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive(key) {
		return 0, false
	}
	at, ok := s.expires[key]
	if !ok {
		return 0, false
	}
	return at.Sub(s.clock), true
}

func (s *Store) Value(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive(key) {
		return "", false
	}
	return s.values[key], true
}

// Keys returns the live keys with the given prefix.
func (s *Store) Keys(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.values {
		if strings.HasPrefix(k, prefix) && s.alive(k) {
			out = append(out, k)
		}
	}
	return out
}

// Commands lists executed command names in order.
func (s *Store) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *Store) alive(key string) bool {
	if _, ok := s.values[key]; !ok {
		return false
	}
	if at, ok := s.expires[key]; ok && !s.clock.Before(at) {
		delete(s.values, key)
		delete(s.expires, key)
		return false
	}
	return true
}

func argString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

func (s *Store) exec(cmd redis.Cmder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := strings.ToLower(cmd.Name())
	s.commands = append(s.commands, name)
	if s.FailCommand != "" && name == s.FailCommand {
		return s.Err
	}
	args := cmd.Args()

	switch name {
	case "multi", "exec":
		return nil
	case "get":
		key := argString(args[1])
		if !s.alive(key) {
			return redis.Nil
		}
		cmd.(*redis.StringCmd).SetVal(s.values[key])
		return nil
	case "set", "setnx":
		return s.set(cmd, name, args)
	case "incr":
		key := argString(args[1])
		var n int64
		if s.alive(key) {
			v, err := strconv.ParseInt(s.values[key], 10, 64)
			if err != nil {
				return errors.New("ERR value is not an integer or out of range")
			}
			n = v
		}
		n++
		s.values[key] = strconv.FormatInt(n, 10)
		cmd.(*redis.IntCmd).SetVal(n)
		return nil
	case "exists", "del":
		var n int64
		for _, a := range args[1:] {
			key := argString(a)
			if s.alive(key) {
				n++
				if name == "del" {
					delete(s.values, key)
					delete(s.expires, key)
				}
			}
		}
		cmd.(*redis.IntCmd).SetVal(n)
		return nil
	case "expire":
		key := argString(args[1])
		secs, _ := strconv.ParseInt(argString(args[2]), 10, 64)
		ok := s.alive(key)
		if ok {
			s.expires[key] = s.clock.Add(time.Duration(secs) * time.Second)
		}
		cmd.(*redis.BoolCmd).SetVal(ok)
		return nil
	default:
		return fmt.Errorf("redistest: unsupported command %q", name)
	}
}

func (s *Store) set(cmd redis.Cmder, name string, args []interface{}) error {
	key := argString(args[1])
	value := argString(args[2])
	nx := name == "setnx"
	var ttl time.Duration
	for i := 3; i < len(args); i++ {
		switch strings.ToLower(argString(args[i])) {
		case "nx":
			nx = true
		case "ex", "px":
			if i+1 >= len(args) {
				return errors.New("ERR syntax error")
			}
			n, err := strconv.ParseInt(argString(args[i+1]), 10, 64)
			if err != nil {
				return errors.New("ERR value is not an integer or out of range")
			}
			if strings.ToLower(argString(args[i])) == "ex" {
				ttl = time.Duration(n) * time.Second
			} else {
				ttl = time.Duration(n) * time.Millisecond
			}
			i++
		}
	}

	if nx && s.alive(key) {
		if b, ok := cmd.(*redis.BoolCmd); ok {
			b.SetVal(false)
			return nil
		}
		return redis.Nil
	}
	s.values[key] = value
	delete(s.expires, key)
	if ttl > 0 {
		s.expires[key] = s.clock.Add(ttl)
	}
	switch c := cmd.(type) {
	case *redis.BoolCmd:
		c.SetVal(true)
	case *redis.StatusCmd:
		c.SetVal("OK")
	}
	return nil
}
