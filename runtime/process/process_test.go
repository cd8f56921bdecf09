package process

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/viant/nanokernel/model/isa"
)

func TestProcess_Transition(t *testing.T) {
	testCases := []struct {
		description string
		path        []State
		expectErr   bool
	}{
		{description: "full lifecycle", path: []State{StateRunnable, StateRunning, StateBlocked, StateRunnable, StateRunning, StateZombie, StateDead}},
		{description: "preempted", path: []State{StateRunnable, StateRunning, StateRunnable}},
		{description: "failed fork cleanup", path: []State{StateDead}},
		{description: "embryo cannot run", path: []State{StateRunning}, expectErr: true},
		{description: "runnable cannot exit", path: []State{StateRunnable, StateZombie}, expectErr: true},
		{description: "zombie cannot resume", path: []State{StateRunnable, StateRunning, StateZombie, StateRunnable}, expectErr: true},
		{description: "dead is final", path: []State{StateDead, StateRunnable}, expectErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			p := New(2, 1)
			var err error
			for _, state := range tc.path {
				if err = p.Transition(state); err != nil {
					break
				}
			}
			if tc.expectErr {
				assert.True(t, errors.Is(err, ErrInvalidState))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.path[len(tc.path)-1], p.State)
		})
	}
}

func TestProcess_Info(t *testing.T) {
	p := New(3, 1)
	p.Name = "echo"
	p.Children[7] = true
	p.Children[5] = true
	p.SetReturn(42)
	info := p.Info()
	assert.Equal(t, []int{5, 7}, info.Children)
	assert.Equal(t, StateEmbryo, info.State)
	assert.EqualValues(t, 42, p.Context.Regs[isa.V0])
	assert.True(t, p.Alive())
}
