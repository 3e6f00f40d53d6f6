package rules

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Op names a world mutation carried in delta broadcasts.
type Op string

const (
	OpAddSnake    Op = "addSnake"
	OpInput       Op = "input"
	OpRemoveSnake Op = "removeSnake"
)

// Command is one accepted mutation. On the wire it is a positional array:
// ["addSnake", slot], ["input", slot, "left"] or ["removeSnake", slot].
type Command struct {
	Op    Op
	Slot  int
	Input string
}

func AddSnakeCmd(slot int) Command          { return Command{Op: OpAddSnake, Slot: slot} }
func InputCmd(slot int, cmd string) Command { return Command{Op: OpInput, Slot: slot, Input: cmd} }
func RemoveSnakeCmd(slot int) Command       { return Command{Op: OpRemoveSnake, Slot: slot} }

func (c Command) args() []interface{} {
	if c.Op == OpInput {
		return []interface{}{c.Op, c.Slot, c.Input}
	}
	return []interface{}{c.Op, c.Slot}
}

func (c Command) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.args())
}

func (c *Command) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 2 {
		return fmt.Errorf("rules: command needs op and slot, got %d fields", len(raw))
	}
	var op string
	if err := json.Unmarshal(raw[0], &op); err != nil {
		return fmt.Errorf("rules: command op: %w", err)
	}
	c.Op = Op(op)
	if err := json.Unmarshal(raw[1], &c.Slot); err != nil {
		return fmt.Errorf("rules: command slot: %w", err)
	}
	c.Input = ""
	if c.Op == OpInput {
		if len(raw) < 3 {
			return fmt.Errorf("rules: input command without direction")
		}
		if err := json.Unmarshal(raw[2], &c.Input); err != nil {
			return fmt.Errorf("rules: command input: %w", err)
		}
	}
	return nil
}

var (
	_ msgpack.CustomEncoder = Command{}
	_ msgpack.CustomDecoder = (*Command)(nil)
)

func (c Command) EncodeMsgpack(enc *msgpack.Encoder) error {
	n := 2
	if c.Op == OpInput {
		n = 3
	}
	if err := enc.EncodeArrayLen(n); err != nil {
		return err
	}
	if err := enc.EncodeString(string(c.Op)); err != nil {
		return err
	}
	if err := enc.EncodeInt(int64(c.Slot)); err != nil {
		return err
	}
	if c.Op == OpInput {
		return enc.EncodeString(c.Input)
	}
	return nil
}

func (c *Command) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n < 2 {
		return fmt.Errorf("rules: command needs op and slot, got %d fields", n)
	}
	op, err := dec.DecodeString()
	if err != nil {
		return err
	}
	slot, err := dec.DecodeInt()
	if err != nil {
		return err
	}
	c.Op, c.Slot, c.Input = Op(op), slot, ""
	read := 2
	if c.Op == OpInput && n >= 3 {
		if c.Input, err = dec.DecodeString(); err != nil {
			return err
		}
		read++
	}
	for ; read < n; read++ {
		if err := dec.Skip(); err != nil {
			return err
		}
	}
	return nil
}

// Apply replays a command. Replaying the commands of a delta and then
// stepping reproduces the world that produced the delta.
func (w *World) Apply(c Command) error {
	switch c.Op {
	case OpAddSnake:
		if w.Snake(c.Slot) == nil {
			w.addSnakeAt(c.Slot)
		}
	case OpInput:
		w.Input(c.Slot, c.Input)
	case OpRemoveSnake:
		w.RemoveSnake(c.Slot)
	default:
		return fmt.Errorf("rules: unknown command %q", c.Op)
	}
	return nil
}
