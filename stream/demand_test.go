package stream

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestDemandProducerContractDebitsGrantedTokens(t *testing.T) {
	c := qt.New(t)
	d := NewDemandProducerContract(0)
	c.Assert(d.Debit(), qt.IsFalse)

	d.Grant(2)
	c.Assert(d.Outstanding(), qt.Equals, int64(2))
	c.Assert(d.Debit(), qt.IsTrue)
	c.Assert(d.Debit(), qt.IsTrue)
	c.Assert(d.Debit(), qt.IsFalse)
}

func TestDemandProducerContractWithoutBurstRateNeverLimits(t *testing.T) {
	c := qt.New(t)
	d := NewDemandProducerContract(0)
	for i := 0; i < 1000; i++ {
		c.Assert(d.Grant(1), qt.IsTrue)
	}
	c.Assert(d.Outstanding(), qt.Equals, int64(1000))
}
