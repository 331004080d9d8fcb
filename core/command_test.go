package core

import (
	"testing"

	"ranger/protocol"
)

func TestCommandRegistry(t *testing.T) {
	registry := NewCommandRegistry()

	var called bool
	handler := func(data *[]byte) error {
		called = true
		return nil
	}

	id := registry.Register("test_command", "arg=%u", handler)

	if id != 0 {
		t.Errorf("Expected first command to have ID 0, got %d", id)
	}

	cmd, ok := registry.GetCommand(id)
	if !ok {
		t.Fatal("Failed to retrieve registered command")
	}

	if cmd.Name != "test_command" {
		t.Errorf("Expected command name 'test_command', got '%s'", cmd.Name)
	}
	if cmd.Signature() != "test_command arg=%u" {
		t.Errorf("Unexpected signature %q", cmd.Signature())
	}

	var data []byte
	if err := registry.Dispatch(id, &data); err != nil {
		t.Errorf("Dispatch failed: %v", err)
	}

	if !called {
		t.Error("Command handler was not called")
	}

	if err := registry.Dispatch(999, &data); err == nil {
		t.Error("Expected error for unknown command ID")
	}
}

func TestCommandRegistryMultiple(t *testing.T) {
	registry := NewCommandRegistry()

	id1 := registry.Register("command1", "arg1=%u", func(data *[]byte) error { return nil })
	id2 := registry.Register("command2", "arg2=%u", func(data *[]byte) error { return nil })
	id3 := registry.Register("command3", "arg3=%u", func(data *[]byte) error { return nil })

	if id1 != 0 || id2 != 1 || id3 != 2 {
		t.Errorf("Command IDs not sequential: %d, %d, %d", id1, id2, id3)
	}

	for i := uint16(0); i < 3; i++ {
		if _, ok := registry.GetCommand(i); !ok {
			t.Errorf("Command %d not found", i)
		}
	}

	if registry.Count() != 3 {
		t.Errorf("Expected 3 entries, got %d", registry.Count())
	}
}

func TestCommandRegistryDuplicateName(t *testing.T) {
	registry := NewCommandRegistry()

	first := registry.Register("measure", "unit=%c", func(data *[]byte) error { return nil })
	registry.Register("other", "", nil)
	again := registry.Register("measure", "unit=%c", func(data *[]byte) error { return nil })

	if again != first {
		t.Errorf("Re-registering returned ID %d, want %d", again, first)
	}
	if registry.Count() != 2 {
		t.Errorf("Expected 2 entries, got %d", registry.Count())
	}
}

func TestDispatchResponseRejected(t *testing.T) {
	registry := NewCommandRegistry()
	id := registry.Register("distance", "status=%c", nil)

	var data []byte
	if err := registry.Dispatch(id, &data); err == nil {
		t.Error("Dispatching a response should fail")
	}
}

func TestCommandWithArguments(t *testing.T) {
	registry := NewCommandRegistry()

	var receivedValue uint32

	handler := func(data *[]byte) error {
		val, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		receivedValue = val
		return nil
	}

	id := registry.Register("test_args", "value=%u", handler)

	output := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(output, 12345)
	data := output.Result()

	if err := registry.Dispatch(id, &data); err != nil {
		t.Errorf("Dispatch failed: %v", err)
	}

	if receivedValue != 12345 {
		t.Errorf("Expected value 12345, got %d", receivedValue)
	}
}

func TestOrdered(t *testing.T) {
	registry := NewCommandRegistry()
	names := []string{"identify_response", "identify", "get_config"}
	for _, n := range names {
		registry.Register(n, "", nil)
	}

	for i, cmd := range registry.Ordered() {
		if cmd.Name != names[i] || cmd.ID != uint16(i) {
			t.Errorf("Entry %d is %s/%d", i, cmd.Name, cmd.ID)
		}
	}
}
