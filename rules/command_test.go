package rules

import (
	"encoding/json"
	"testing"
)

func TestCommandJSONShape(t *testing.T) {
	raw, err := json.Marshal([]Command{AddSnakeCmd(2), InputCmd(2, "left"), RemoveSnakeCmd(0)})
	if err != nil {
		t.Fatal(err)
	}
	want := `[["addSnake",2],["input",2,"left"],["removeSnake",0]]`
	if string(raw) != want {
		t.Errorf("json = %s, want %s", raw, want)
	}

	var back []Command
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	if len(back) != 3 || back[1] != InputCmd(2, "left") {
		t.Errorf("decoded = %+v", back)
	}
}

func TestCommandJSONRejectsShortInput(t *testing.T) {
	var c Command
	if err := json.Unmarshal([]byte(`["input",1]`), &c); err == nil {
		t.Error("input without a direction should not decode")
	}
	if err := json.Unmarshal([]byte(`["addSnake"]`), &c); err == nil {
		t.Error("command without a slot should not decode")
	}
}

func TestApplyUnknownOp(t *testing.T) {
	w := newTestWorld()
	if err := w.Apply(Command{Op: "teleport"}); err == nil {
		t.Error("unknown op should fail")
	}
}

func TestApplyAddSnakeIsIdempotent(t *testing.T) {
	w := newTestWorld()
	if err := w.Apply(AddSnakeCmd(3)); err != nil {
		t.Fatal(err)
	}
	s := w.Snake(3)
	if s == nil {
		t.Fatal("snake 3 should exist")
	}
	w.Apply(AddSnakeCmd(3))
	if w.Snake(3) != s || len(w.Snakes()) != 1 {
		t.Error("a second addSnake for the same slot should be ignored")
	}
	if next := w.AddSnake(); next.Slot != 4 {
		t.Errorf("next slot = %d, want 4", next.Slot)
	}
}
