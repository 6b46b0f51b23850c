// Package command parses a protocol.Frame token stream — always a top-level
// Array frame — into a typed Command, following the grammar each command
// documents below. Options are carried as a Map frame (key/value pairs,
// each appearing at most once) and flags as an Array frame (bare names,
// each appearing at most once); both are optional trailing tokens and, when
// present, must be the sole remaining tokens in that position.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/segmentdb/segment/internal/protocol"
	"github.com/segmentdb/segment/internal/store"
)

// Kind identifies which command variant a Command holds.
type Kind int

const (
	KindCreate Kind = iota
	KindSet
	KindGet
	KindDel
	KindDrop
	KindCount
	KindTtl
	KindPing
	KindKeyspaces
)

// Command is the parsed, typed form of a request. Only the fields relevant
// to Kind are meaningful.
type Command struct {
	Kind Kind

	Keyspace []byte
	Key      []byte
	Value    []byte

	Evictor store.Evictor

	// ExpireAt is a UNIX second timestamp, resolved at parse time from
	// either an explicit expire_at or a relative expire_after (in
	// milliseconds, added to the current time). Nil means no expiry.
	ExpireAt *uint64

	IfExists    bool
	IfNotExists bool
}

var (
	// ErrInvalidFormat means the frame tree does not match any command's
	// token shape (wrong frame kind where a token was expected), an option
	// or flag was repeated, or two mutually exclusive options or flags were
	// given together.
	ErrInvalidFormat = errors.New("invalid command format")

	// ErrWrongArgCount means a command received too few or too many
	// top-level tokens.
	ErrWrongArgCount = errors.New("wrong number of arguments")

	// ErrInvalidArg means an option or flag name is not recognized by the
	// command it was given to.
	ErrInvalidArg = errors.New("invalid argument")

	// ErrInvalidArgValue means an option name was recognized but its value
	// could not be interpreted.
	ErrInvalidArgValue = errors.New("invalid argument value")

	// ErrUnknownCommand means the first token named a command this server
	// does not implement.
	ErrUnknownCommand = errors.New("unknown command")
)

// parser walks a flat token slice with a single position cursor, mirroring
// the teacher's request-body walkers that consume one field at a time and
// report a distinct error for "ran off the end."
type parser struct {
	tokens []protocol.Frame
	pos    int
}

func (p *parser) next() (protocol.Frame, bool) {
	if p.pos >= len(p.tokens) {
		return protocol.Frame{}, false
	}
	f := p.tokens[p.pos]
	p.pos++
	return f, true
}

func (p *parser) hasRemaining() bool {
	return p.pos < len(p.tokens)
}

// Parse decodes a top-level Array frame into a Command.
func Parse(frame protocol.Frame) (Command, error) {
	if frame.Tag != protocol.TagArray {
		return Command{}, ErrInvalidFormat
	}
	p := &parser{tokens: frame.Items}

	nameFrame, ok := p.next()
	if !ok {
		return Command{}, ErrInvalidFormat
	}
	if nameFrame.Tag != protocol.TagString {
		return Command{}, ErrInvalidFormat
	}
	name := strings.ToLower(string(nameFrame.Str))

	switch name {
	case "create":
		return parseCreate(p)
	case "set":
		return parseSet(p)
	case "get":
		return parseGet(p)
	case "del":
		return parseDel(p)
	case "drop":
		return parseDrop(p)
	case "count":
		return parseCount(p)
	case "ttl":
		return parseTtl(p)
	case "ping":
		if p.hasRemaining() {
			return Command{}, wrongArgCount(name)
		}
		return Command{Kind: KindPing}, nil
	case "keyspaces":
		if p.hasRemaining() {
			return Command{}, wrongArgCount(name)
		}
		return Command{Kind: KindKeyspaces}, nil
	default:
		return Command{}, fmt.Errorf("unknown command %q: %w", name, ErrUnknownCommand)
	}
}

func wrongArgCount(cmd string) error {
	return fmt.Errorf("wrong number of arguments for %q command: %w", cmd, ErrWrongArgCount)
}

func invalidArg(arg, cmd string) error {
	return fmt.Errorf("invalid argument %q for %q command: %w", arg, cmd, ErrInvalidArg)
}

func invalidArgValue(value, arg, cmd string) error {
	return fmt.Errorf("invalid value %q for argument %q for %q command: %w", value, arg, cmd, ErrInvalidArgValue)
}

func stringToken(p *parser, cmd string) ([]byte, error) {
	f, ok := p.next()
	if !ok {
		return nil, wrongArgCount(cmd)
	}
	if f.Tag != protocol.TagString {
		return nil, ErrInvalidFormat
	}
	return f.Str, nil
}

// keyValuePairs walks a Map frame's flat Items as lowercased string
// key/value pairs. Non-string keys or values are a format error.
func keyValuePairs(f protocol.Frame) ([][2]string, error) {
	if f.Tag != protocol.TagMap {
		return nil, ErrInvalidFormat
	}
	pairs := make([][2]string, 0, len(f.Items)/2)
	for i := 0; i+1 < len(f.Items); i += 2 {
		k := f.Items[i]
		v := f.Items[i+1]
		if k.Tag != protocol.TagString || v.Tag != protocol.TagString {
			return nil, ErrInvalidFormat
		}
		pairs = append(pairs, [2]string{
			strings.ToLower(string(k.Str)),
			strings.ToLower(string(v.Str)),
		})
	}
	return pairs, nil
}

// flagNames walks an Array frame's Items as lowercased bare flag names.
func flagNames(f protocol.Frame) ([]string, error) {
	if f.Tag != protocol.TagArray {
		return nil, ErrInvalidFormat
	}
	names := make([]string, 0, len(f.Items))
	for _, item := range f.Items {
		if item.Tag != protocol.TagString {
			return nil, ErrInvalidFormat
		}
		names = append(names, strings.ToLower(string(item.Str)))
	}
	return names, nil
}

func parseCreate(p *parser) (Command, error) {
	const cmd = "create"
	keyspace, err := stringToken(p, cmd)
	if err != nil {
		return Command{}, err
	}

	c := Command{Kind: KindCreate, Keyspace: keyspace, Evictor: store.EvictorNop}
	if !p.hasRemaining() {
		return c, nil
	}

	optsFrame, ok := p.next()
	if !ok {
		return Command{}, wrongArgCount(cmd)
	}
	pairs, err := keyValuePairs(optsFrame)
	if err != nil {
		return Command{}, err
	}
	seenEvictor := false
	for _, kv := range pairs {
		key, value := kv[0], kv[1]
		if key != "evictor" {
			return Command{}, invalidArg(key, cmd)
		}
		if seenEvictor {
			return Command{}, ErrInvalidFormat
		}
		seenEvictor = true
		ev, ok := store.ParseEvictor(value)
		if !ok {
			return Command{}, invalidArgValue(value, key, cmd)
		}
		c.Evictor = ev
	}

	if !p.hasRemaining() {
		return c, nil
	}

	flagsFrame, ok := p.next()
	if !ok {
		return Command{}, wrongArgCount(cmd)
	}
	names, err := flagNames(flagsFrame)
	if err != nil {
		return Command{}, err
	}
	for _, name := range names {
		if name != "if_not_exists" {
			return Command{}, invalidArg(name, cmd)
		}
		if c.IfNotExists {
			return Command{}, ErrInvalidFormat
		}
		c.IfNotExists = true
	}

	if p.hasRemaining() {
		return Command{}, wrongArgCount(cmd)
	}
	return c, nil
}

func parseSet(p *parser) (Command, error) {
	const cmd = "set"
	keyspace, err := stringToken(p, cmd)
	if err != nil {
		return Command{}, err
	}
	key, err := stringToken(p, cmd)
	if err != nil {
		return Command{}, err
	}
	value, err := stringToken(p, cmd)
	if err != nil {
		return Command{}, err
	}

	c := Command{Kind: KindSet, Keyspace: keyspace, Key: key, Value: value}
	if !p.hasRemaining() {
		return c, nil
	}

	optsFrame, ok := p.next()
	if !ok {
		return Command{}, wrongArgCount(cmd)
	}
	pairs, err := keyValuePairs(optsFrame)
	if err != nil {
		return Command{}, err
	}

	var expireAt, expireAfter *uint64
	for _, kv := range pairs {
		key, value := kv[0], kv[1]
		switch key {
		case "expire_at":
			if expireAt != nil {
				return Command{}, ErrInvalidFormat
			}
			v, perr := strconv.ParseUint(value, 10, 64)
			if perr != nil {
				return Command{}, invalidArgValue(value, key, cmd)
			}
			expireAt = &v
		case "expire_after":
			if expireAfter != nil {
				return Command{}, ErrInvalidFormat
			}
			v, perr := strconv.ParseUint(value, 10, 64)
			if perr != nil {
				return Command{}, invalidArgValue(value, key, cmd)
			}
			expireAfter = &v
		default:
			return Command{}, invalidArg(key, cmd)
		}
	}

	if expireAt != nil && expireAfter != nil {
		return Command{}, ErrInvalidFormat
	}
	if expireAt != nil {
		c.ExpireAt = expireAt
	} else if expireAfter != nil {
		resolved := uint64(time.Now().Add(time.Duration(*expireAfter) * time.Millisecond).Unix())
		c.ExpireAt = &resolved
	}

	if !p.hasRemaining() {
		return c, nil
	}

	flagsFrame, ok := p.next()
	if !ok {
		return Command{}, wrongArgCount(cmd)
	}
	names, err := flagNames(flagsFrame)
	if err != nil {
		return Command{}, err
	}
	var ifExists, ifNotExists bool
	for _, name := range names {
		switch name {
		case "if_exists":
			if ifExists {
				return Command{}, ErrInvalidFormat
			}
			ifExists = true
		case "if_not_exists":
			if ifNotExists {
				return Command{}, ErrInvalidFormat
			}
			ifNotExists = true
		default:
			return Command{}, invalidArg(name, cmd)
		}
	}
	if ifExists && ifNotExists {
		return Command{}, ErrInvalidFormat
	}
	c.IfExists = ifExists
	c.IfNotExists = ifNotExists

	if p.hasRemaining() {
		return Command{}, wrongArgCount(cmd)
	}
	return c, nil
}

func parseGet(p *parser) (Command, error) {
	const cmd = "get"
	keyspace, err := stringToken(p, cmd)
	if err != nil {
		return Command{}, err
	}
	key, err := stringToken(p, cmd)
	if err != nil {
		return Command{}, err
	}
	if p.hasRemaining() {
		return Command{}, wrongArgCount(cmd)
	}
	return Command{Kind: KindGet, Keyspace: keyspace, Key: key}, nil
}

func parseDel(p *parser) (Command, error) {
	const cmd = "del"
	keyspace, err := stringToken(p, cmd)
	if err != nil {
		return Command{}, err
	}
	key, err := stringToken(p, cmd)
	if err != nil {
		return Command{}, err
	}
	if p.hasRemaining() {
		return Command{}, wrongArgCount(cmd)
	}
	return Command{Kind: KindDel, Keyspace: keyspace, Key: key}, nil
}

func parseDrop(p *parser) (Command, error) {
	const cmd = "drop"
	keyspace, err := stringToken(p, cmd)
	if err != nil {
		return Command{}, err
	}

	c := Command{Kind: KindDrop, Keyspace: keyspace}
	if !p.hasRemaining() {
		return c, nil
	}

	flagsFrame, ok := p.next()
	if !ok {
		return Command{}, wrongArgCount(cmd)
	}
	names, err := flagNames(flagsFrame)
	if err != nil {
		return Command{}, err
	}
	for _, name := range names {
		if name != "if_exists" {
			return Command{}, invalidArg(name, cmd)
		}
		if c.IfExists {
			return Command{}, ErrInvalidFormat
		}
		c.IfExists = true
	}

	if p.hasRemaining() {
		return Command{}, wrongArgCount(cmd)
	}
	return c, nil
}

func parseCount(p *parser) (Command, error) {
	const cmd = "count"
	keyspace, err := stringToken(p, cmd)
	if err != nil {
		return Command{}, err
	}
	if p.hasRemaining() {
		return Command{}, wrongArgCount(cmd)
	}
	return Command{Kind: KindCount, Keyspace: keyspace}, nil
}

func parseTtl(p *parser) (Command, error) {
	const cmd = "ttl"
	keyspace, err := stringToken(p, cmd)
	if err != nil {
		return Command{}, err
	}
	key, err := stringToken(p, cmd)
	if err != nil {
		return Command{}, err
	}
	if p.hasRemaining() {
		return Command{}, wrongArgCount(cmd)
	}
	return Command{Kind: KindTtl, Keyspace: keyspace, Key: key}, nil
}
