package memory_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/radsym/radsym/pkg/memory"
	"github.com/radsym/radsym/pkg/solver/fakez3"
	"github.com/radsym/radsym/pkg/value"
)

func TestWriteValuePackRoundTripLittleEndian(t *testing.T) {
	sess := fakez3.New()
	m := memory.New()
	m.WriteValue(sess, 0x100, value.Concrete(0xdeadbeef, 32))
	require.Equal(t, uint64(0xdeadbeef), m.Pack(sess, 0x100, 32).Conc)

	require.Equal(t, uint64(0xef), m.ReadByte(0x100).Conc)
	require.Equal(t, uint64(0xbe), m.ReadByte(0x101).Conc)
	require.Equal(t, uint64(0xad), m.ReadByte(0x102).Conc)
	require.Equal(t, uint64(0xde), m.ReadByte(0x103).Conc)
}

func TestWriteValuePackRoundTripBigEndian(t *testing.T) {
	sess := fakez3.New()
	m := memory.New()
	m.Endian = memory.BigEndian
	m.WriteValue(sess, 0x100, value.Concrete(0xdeadbeef, 32))
	require.Equal(t, uint64(0xdeadbeef), m.Pack(sess, 0x100, 32).Conc)

	require.Equal(t, uint64(0xde), m.ReadByte(0x100).Conc)
	require.Equal(t, uint64(0xef), m.ReadByte(0x103).Conc)
}

func TestPackSymbolicByteProducesSymbolicWord(t *testing.T) {
	sess := fakez3.New()
	m := memory.New()
	sym := sess.Symbol("byte0", 8)
	m.WriteByte(0x200, value.Symbolic(sym, 8))
	m.WriteByte(0x201, value.Concrete(0, 8))
	m.WriteByte(0x202, value.Concrete(0, 8))
	m.WriteByte(0x203, value.Concrete(0, 8))

	got := m.Pack(sess, 0x200, 32)
	require.True(t, got.IsSymbolic())

	sess.Assert(sess.Eq(sym, sess.Const(0x42, 8)))
	n, ok := sess.Eval(got.Sym)
	require.True(t, ok)
	require.Equal(t, uint64(0x42), n)
}

func TestCheckPermissionDefaultsToRWXWhenUnmapped(t *testing.T) {
	m := memory.New()
	require.True(t, m.CheckPermission(0x1000, 4, memory.PermExec|memory.PermWrite|memory.PermRead))
}

func TestCheckPermissionHonorsExplicitBits(t *testing.T) {
	m := memory.New()
	m.SetPermission(0x1000, 0x1000, memory.PermRead|memory.PermExec)
	require.True(t, m.CheckPermission(0x1000, 4, memory.PermExec))
	require.False(t, m.CheckPermission(0x1000, 4, memory.PermWrite))
}

func TestHandleSegfaultCrashVsSuppressed(t *testing.T) {
	m := memory.New()
	require.NoError(t, m.HandleSegfault(0x1000, 4, 'x'))

	m.Crash = true
	err := m.HandleSegfault(0x1000, 4, 'x')
	require.ErrorIs(t, err, memory.ErrPermission)
}

func TestCloneIsIndependent(t *testing.T) {
	sess := fakez3.New()
	m := memory.New()
	m.WriteValue(sess, 0x300, value.Concrete(7, 8))

	c := m.Clone()
	c.WriteValue(sess, 0x300, value.Concrete(9, 8))

	require.Equal(t, uint64(7), m.ReadByte(0x300).Conc)
	require.Equal(t, uint64(9), c.ReadByte(0x300).Conc)
}
