package regfile_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/radsym/radsym/pkg/regfile"
	"github.com/radsym/radsym/pkg/solver/fakez3"
	"github.com/radsym/radsym/pkg/value"
)

func TestSubRegisterReadsSliceOfRoot(t *testing.T) {
	sess := fakez3.New()
	f := regfile.New()
	f.Declare("rax", 64)
	al, err := f.DeclareSub("al", "rax", 0, 8)
	require.NoError(t, err)

	rax, _ := f.Lookup("rax")
	f.Set(sess, rax.Index, value.Concrete(0x1122334455667788, 64))
	require.Equal(t, uint64(0x88), f.Get(sess, al.Index).Conc)
}

func TestSubRegisterWritePreservesSiblingBits(t *testing.T) {
	sess := fakez3.New()
	f := regfile.New()
	f.Declare("rax", 64)
	al, err := f.DeclareSub("al", "rax", 0, 8)
	require.NoError(t, err)

	rax, _ := f.Lookup("rax")
	f.Set(sess, rax.Index, value.Concrete(0x1122334455667788, 64))
	f.Set(sess, al.Index, value.Concrete(0xff, 8))
	require.Equal(t, uint64(0x11223344556677ff), f.Get(sess, rax.Index).Conc)
}

func TestAliasResolvesToUnderlyingRegister(t *testing.T) {
	sess := fakez3.New()
	f := regfile.New()
	f.Declare("r30", 64)
	f.Alias("PC", "r30")

	f.SetPC(sess, value.Concrete(0x8048000, 64))
	r30, _ := f.Lookup("r30")
	require.Equal(t, uint64(0x8048000), f.Get(sess, r30.Index).Conc)
	require.Equal(t, uint64(0x8048000), f.GetPC(sess).Conc)
}

func TestIsSub(t *testing.T) {
	f := regfile.New()
	f.Declare("rax", 64)
	al, _ := f.DeclareSub("al", "rax", 0, 8)
	ax, _ := f.DeclareSub("ax", "rax", 0, 16)
	rax, _ := f.Lookup("rax")

	require.True(t, regfile.IsSub(al, ax))
	require.True(t, regfile.IsSub(al, rax))
	require.False(t, regfile.IsSub(ax, al))
}

func TestCloneIsIndependent(t *testing.T) {
	sess := fakez3.New()
	f := regfile.New()
	f.Declare("r0", 32)
	r0, _ := f.Lookup("r0")
	f.Set(sess, r0.Index, value.Concrete(1, 32))

	c := f.Clone()
	c.Set(sess, r0.Index, value.Concrete(2, 32))

	require.Equal(t, uint64(1), f.Get(sess, r0.Index).Conc)
	require.Equal(t, uint64(2), c.Get(sess, r0.Index).Conc)
}
