package relay

import (
	"errors"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDriver struct {
	mock.Mock
}

func (m *mockDriver) Set(addr int, high bool) error {
	return m.Called(addr, high).Error(0)
}

func (m *mockDriver) Close() error {
	return m.Called().Error(0)
}

func newTestPool(t *testing.T, addrs ...int) (*Pool, *mockDriver) {
	t.Helper()
	drv := &mockDriver{}
	for _, a := range addrs {
		drv.On("Set", a, false).Return(nil).Once()
	}
	p, err := NewPool(drv, addrs, logr.Discard())
	require.NoError(t, err)
	return p, drv
}

func TestNewPool_DrivesAllLow(t *testing.T) {
	p, drv := newTestPool(t, 4, 5, 6)
	drv.AssertExpectations(t)
	assert.Equal(t, []int{4, 5, 6}, p.Unassigned())
}

func TestNewPool_DriverFailure(t *testing.T) {
	drv := &mockDriver{}
	drv.On("Set", 4, false).Return(nil)
	drv.On("Set", 5, false).Return(errors.New("busy"))

	_, err := NewPool(drv, []int{4, 5}, logr.Discard())
	assert.ErrorContains(t, err, "relay 5")
}

func TestPool_SetAndReserve(t *testing.T) {
	p, drv := newTestPool(t, 4, 5)
	drv.On("Set", 5, true).Return(nil).Once()

	require.NoError(t, p.Set(5, true))
	assert.True(t, p.Reserve(5))
	assert.False(t, p.Reserve(5))
	assert.Equal(t, []int{4}, p.Unassigned())
	drv.AssertExpectations(t)
}

func TestPool_ClaimFirstMatch(t *testing.T) {
	p, _ := newTestPool(t, 4, 5, 6, 12)

	var tried []int
	addr, err := p.Claim(func(a int) (bool, error) {
		tried = append(tried, a)
		return a == 6, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 6, addr)
	assert.Equal(t, []int{4, 5, 6}, tried)
	assert.Equal(t, []int{4, 5, 12}, p.Unassigned())
}

func TestPool_ClaimNoMatch(t *testing.T) {
	p, _ := newTestPool(t, 4, 5)

	_, err := p.Claim(func(int) (bool, error) { return false, nil })
	assert.ErrorIs(t, err, ErrNoMatch)
	assert.Equal(t, []int{4, 5}, p.Unassigned())
}

func TestPool_ClaimAbortsOnError(t *testing.T) {
	p, _ := newTestPool(t, 4, 5)
	boom := errors.New("boom")

	calls := 0
	_, err := p.Claim(func(int) (bool, error) {
		calls++
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestPool_Close(t *testing.T) {
	p, drv := newTestPool(t, 4, 5)
	drv.On("Set", 4, false).Return(nil).Once()
	drv.On("Set", 5, false).Return(nil).Once()
	drv.On("Close").Return(nil).Once()

	require.NoError(t, p.Close())
	drv.AssertExpectations(t)
}
