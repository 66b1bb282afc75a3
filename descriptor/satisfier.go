// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

// SatisfyContext supplies the witness material the satisfier may use.
type SatisfyContext struct {
	// Sig returns the transaction signature (with sighash byte) for a
	// serialized public key, or nil when unavailable. Keys are queried
	// in their script serialization: compressed SEC, or x-only under
	// taproot.
	Sig func(pubKey []byte) []byte

	// Preimage returns the preimage for a hash-lock digest, or nil.
	Preimage func(hash []byte) []byte
}

// satisfaction is a candidate witness fragment. Elements are ordered
// bottom to top of the final witness stack.
type satisfaction struct {
	stack [][]byte
	ok    bool
}

func unavailable() satisfaction { return satisfaction{} }

func available(stack ...[]byte) satisfaction {
	if stack == nil {
		stack = [][]byte{}
	}
	return satisfaction{stack: stack, ok: true}
}

// cat concatenates fragments; the result is available only when all
// parts are. Fragments are given bottom-first.
func cat(parts ...satisfaction) satisfaction {
	out := satisfaction{ok: true, stack: [][]byte{}}
	for _, p := range parts {
		if !p.ok {
			return unavailable()
		}
		out.stack = append(out.stack, p.stack...)
	}
	return out
}

// better picks the cheaper of two candidates, measured in total witness
// bytes.
func better(a, b satisfaction) satisfaction {
	if !a.ok {
		return b
	}
	if !b.ok {
		return a
	}
	if stackSize(b.stack) < stackSize(a.stack) {
		return b
	}
	return a
}

func stackSize(stack [][]byte) int {
	n := 0
	for _, e := range stack {
		n += 1 + len(e)
	}
	return n
}

var (
	emptyPush = []byte{}
	onePush   = []byte{0x01}
)

// Satisfy builds the witness stack satisfying the expression from the
// available signatures and preimages. Timelocks (older/after) are
// assumed met. Returns ErrNotSatisfiable when no branch can be
// completed.
func (m *Miniscript) Satisfy(ctx *SatisfyContext) ([][]byte, error) {
	sat, _ := m.satisfactions(ctx)
	if !sat.ok {
		return nil, ErrNotSatisfiable
	}
	return sat.stack, nil
}

// satisfactions computes the satisfaction and dissatisfaction of a
// node.
func (m *Miniscript) satisfactions(ctx *SatisfyContext) (sat, dsat satisfaction) {
	switch m.Name {
	case frag0:
		return unavailable(), available()
	case frag1:
		return available(), unavailable()

	case fragPkK, fragPk:
		sec, err := m.Keys[0].Serialize(m.Taproot)
		if err != nil {
			return unavailable(), available(emptyPush)
		}
		if sig := ctx.Sig(sec); sig != nil {
			return available(sig), available(emptyPush)
		}
		return unavailable(), available(emptyPush)

	case fragPkH, fragPkh:
		sec, err := m.Keys[0].Serialize(m.Taproot)
		if err != nil {
			// A raw hash argument cannot be satisfied without the key.
			return unavailable(), unavailable()
		}
		if sig := ctx.Sig(sec); sig != nil {
			return available(sig, sec), available(emptyPush, sec)
		}
		return unavailable(), available(emptyPush, sec)

	case fragOlder, fragAfter:
		// The finalizer assumes the lock has matured; the transaction
		// carries the actual sequence/locktime.
		return available(), unavailable()

	case fragSha256, fragHash256, fragRipemd160, fragHash160:
		if ctx.Preimage != nil {
			if pre := ctx.Preimage(m.Hash); pre != nil {
				return available(pre), unavailable()
			}
		}
		return unavailable(), unavailable()

	case fragAndor:
		satX, dsatX := m.Args[0].satisfactions(ctx)
		satY, _ := m.Args[1].satisfactions(ctx)
		satZ, dsatZ := m.Args[2].satisfactions(ctx)
		return better(cat(satY, satX), cat(satZ, dsatX)),
			cat(dsatZ, dsatX)

	case fragAndV:
		satX, _ := m.Args[0].satisfactions(ctx)
		satY, _ := m.Args[1].satisfactions(ctx)
		return cat(satY, satX), unavailable()

	case fragAndB:
		satX, dsatX := m.Args[0].satisfactions(ctx)
		satY, dsatY := m.Args[1].satisfactions(ctx)
		return cat(satY, satX), cat(dsatY, dsatX)

	case fragAndN:
		satX, dsatX := m.Args[0].satisfactions(ctx)
		satY, _ := m.Args[1].satisfactions(ctx)
		return cat(satY, satX), dsatX

	case fragOrB:
		satX, dsatX := m.Args[0].satisfactions(ctx)
		satZ, dsatZ := m.Args[1].satisfactions(ctx)
		return better(cat(dsatZ, satX), cat(satZ, dsatX)),
			cat(dsatZ, dsatX)

	case fragOrC:
		satX, dsatX := m.Args[0].satisfactions(ctx)
		satZ, _ := m.Args[1].satisfactions(ctx)
		return better(satX, cat(satZ, dsatX)), unavailable()

	case fragOrD:
		satX, dsatX := m.Args[0].satisfactions(ctx)
		satZ, dsatZ := m.Args[1].satisfactions(ctx)
		return better(satX, cat(satZ, dsatX)), cat(dsatZ, dsatX)

	case fragOrI:
		satX, dsatX := m.Args[0].satisfactions(ctx)
		satZ, dsatZ := m.Args[1].satisfactions(ctx)
		sat = better(push(satX, onePush), push(satZ, emptyPush))
		dsat = better(push(dsatX, onePush), push(dsatZ, emptyPush))
		return sat, dsat

	case fragThresh:
		return m.threshSatisfactions(ctx)

	case fragMulti, fragSortedMulti:
		return m.multiSatisfactions(ctx)

	case fragMultiA, fragSortedMultiA:
		return m.multiASatisfactions(ctx)

	case "a", "s", "n":
		return m.Args[0].satisfactions(ctx)
	case "c":
		return m.Args[0].satisfactions(ctx)
	case "t":
		sat, _ = m.Args[0].satisfactions(ctx)
		return sat, unavailable()
	case "v":
		sat, _ = m.Args[0].satisfactions(ctx)
		return sat, unavailable()
	case "d":
		sat, _ = m.Args[0].satisfactions(ctx)
		return push(sat, onePush), available(emptyPush)
	case "j":
		sat, dsat = m.Args[0].satisfactions(ctx)
		return sat, available(emptyPush)
	case "l":
		sat, dsat = m.Args[0].satisfactions(ctx)
		return push(sat, emptyPush), better(available(onePush), push(dsat, emptyPush))
	case "u":
		sat, dsat = m.Args[0].satisfactions(ctx)
		return push(sat, onePush), better(available(emptyPush), push(dsat, onePush))
	}
	return unavailable(), unavailable()
}

// push appends one element on top of a fragment.
func push(s satisfaction, top []byte) satisfaction {
	if !s.ok {
		return s
	}
	out := make([][]byte, 0, len(s.stack)+1)
	out = append(out, s.stack...)
	return available(append(out, top)...)
}

// threshSatisfactions picks exactly k satisfiable sub-expressions,
// dissatisfying the rest.
func (m *Miniscript) threshSatisfactions(ctx *SatisfyContext) (sat, dsat satisfaction) {
	n := len(m.Args)
	sats := make([]satisfaction, n)
	dsats := make([]satisfaction, n)
	for i, a := range m.Args {
		sats[i], dsats[i] = a.satisfactions(ctx)
	}

	// Dissatisfaction: everything dissatisfied.
	dparts := make([]satisfaction, 0, n)
	for i := n - 1; i >= 0; i-- {
		dparts = append(dparts, dsats[i])
	}
	dsat = cat(dparts...)

	// Satisfaction: greedily prefer satisfiable children until k.
	needed := int(m.Num)
	use := make([]bool, n)
	for i := 0; i < n && needed > 0; i++ {
		if sats[i].ok {
			use[i] = true
			needed--
		}
	}
	if needed > 0 {
		return unavailable(), dsat
	}
	parts := make([]satisfaction, 0, n)
	for i := n - 1; i >= 0; i-- {
		if use[i] {
			parts = append(parts, sats[i])
		} else {
			parts = append(parts, dsats[i])
		}
	}
	return cat(parts...), dsat
}

// multiSatisfactions builds the CHECKMULTISIG witness: a dummy empty
// element and k signatures in script key order.
func (m *Miniscript) multiSatisfactions(ctx *SatisfyContext) (sat, dsat satisfaction) {
	keys, err := m.sortedKeyBytes(false)
	if err != nil {
		return unavailable(), unavailable()
	}
	k := int(m.Num)
	stack := [][]byte{emptyPush}
	count := 0
	for _, sec := range keys {
		if count == k {
			break
		}
		if sig := ctx.Sig(sec); sig != nil {
			stack = append(stack, sig)
			count++
		}
	}
	dstack := make([][]byte, k+1)
	for i := range dstack {
		dstack[i] = emptyPush
	}
	dsat = available(dstack...)
	if count < k {
		return unavailable(), dsat
	}
	return available(stack...), dsat
}

// multiASatisfactions builds the CHECKSIGADD witness: one element per
// key, last key first, empty for keys without signatures.
func (m *Miniscript) multiASatisfactions(ctx *SatisfyContext) (sat, dsat satisfaction) {
	keys, err := m.sortedKeyBytes(true)
	if err != nil {
		return unavailable(), unavailable()
	}
	k := int(m.Num)
	stack := make([][]byte, 0, len(keys))
	count := 0
	for i := len(keys) - 1; i >= 0; i-- {
		sig := ctx.Sig(keys[i])
		if sig != nil && count < k {
			stack = append(stack, sig)
			count++
		} else {
			stack = append(stack, emptyPush)
		}
	}
	dstack := make([][]byte, len(keys))
	for i := range dstack {
		dstack[i] = emptyPush
	}
	dsat = available(dstack...)
	if count < k {
		return unavailable(), dsat
	}
	return available(stack...), dsat
}

// sigLookup builds a Sig callback over a list of (pubkey, signature)
// pairs.
func sigLookup(pairs map[string][]byte) func([]byte) []byte {
	return func(pubKey []byte) []byte {
		if sig, ok := pairs[string(pubKey)]; ok {
			return sig
		}
		// x-only keys may be stored under their compressed form.
		if len(pubKey) == 32 {
			if sig, ok := pairs[string(append([]byte{0x02}, pubKey...))]; ok {
				return sig
			}
			if sig, ok := pairs[string(append([]byte{0x03}, pubKey...))]; ok {
				return sig
			}
		}
		return nil
	}
}
