package script

// asBool interprets a stack item: false for any encoding of zero,
// including negative zero.
func asBool(t []byte) bool {
	for i := range t {
		if t[i] != 0 {
			if i == len(t)-1 && t[i] == 0x80 {
				return false
			}
			return true
		}
	}
	return false
}

func fromBool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return nil
}

// stack is a LIFO of byte slices. Index 0 of the peek/nip helpers is the
// top.
type stack struct {
	items             [][]byte
	verifyMinimalData bool
}

func (s *stack) Depth() int {
	return len(s.items)
}

func (s *stack) PushByteArray(so []byte) {
	s.items = append(s.items, so)
}

func (s *stack) PushInt(n scriptNum) {
	s.PushByteArray(n.Bytes())
}

func (s *stack) PushBool(v bool) {
	s.PushByteArray(fromBool(v))
}

func (s *stack) PopByteArray() ([]byte, error) {
	return s.nipN(0)
}

func (s *stack) PopInt() (scriptNum, error) {
	so, err := s.PopByteArray()
	if err != nil {
		return 0, err
	}
	return makeScriptNum(so, s.verifyMinimalData, maxScriptNumLen)
}

func (s *stack) PopBool() (bool, error) {
	so, err := s.PopByteArray()
	if err != nil {
		return false, err
	}
	return asBool(so), nil
}

func (s *stack) PeekByteArray(idx int) ([]byte, error) {
	sz := len(s.items)
	if idx < 0 || idx >= sz {
		return nil, scriptErrorf(ErrInvalidStackOperation,
			"index %d is invalid for stack size %d", idx, sz)
	}
	return s.items[sz-idx-1], nil
}

func (s *stack) PeekInt(idx int, numLen int) (scriptNum, error) {
	so, err := s.PeekByteArray(idx)
	if err != nil {
		return 0, err
	}
	return makeScriptNum(so, s.verifyMinimalData, numLen)
}

// nipN removes the item idx from the top and returns it.
func (s *stack) nipN(idx int) ([]byte, error) {
	sz := len(s.items)
	if idx < 0 || idx > sz-1 {
		return nil, scriptErrorf(ErrInvalidStackOperation,
			"index %d is invalid for stack size %d", idx, sz)
	}
	so := s.items[sz-idx-1]
	if idx == 0 {
		s.items = s.items[:sz-1]
	} else if idx == sz-1 {
		s.items = s.items[1:]
	} else {
		s1 := s.items[sz-idx : sz]
		s.items = s.items[:sz-idx-1]
		s.items = append(s.items, s1...)
	}
	return so, nil
}

func (s *stack) NipN(idx int) error {
	_, err := s.nipN(idx)
	return err
}

// Tuck copies the top item below the second one: [x1 x2] -> [x2 x1 x2].
func (s *stack) Tuck() error {
	so2, err := s.PopByteArray()
	if err != nil {
		return err
	}
	so1, err := s.PopByteArray()
	if err != nil {
		return err
	}
	s.PushByteArray(so2)
	s.PushByteArray(so1)
	s.PushByteArray(so2)
	return nil
}

func (s *stack) DropN(n int) error {
	if n < 1 {
		return scriptErrorf(ErrInvalidStackOperation, "attempt to drop %d items from stack", n)
	}
	for ; n > 0; n-- {
		if _, err := s.PopByteArray(); err != nil {
			return err
		}
	}
	return nil
}

// DupN duplicates the top n items: n=2 [x1 x2] -> [x1 x2 x1 x2].
func (s *stack) DupN(n int) error {
	if n < 1 {
		return scriptErrorf(ErrInvalidStackOperation, "attempt to dup %d stack items", n)
	}
	for i := n; i > 0; i-- {
		so, err := s.PeekByteArray(n - 1)
		if err != nil {
			return err
		}
		s.PushByteArray(so)
	}
	return nil
}

// RotN rotates the top 3n items left by n: n=1 [x1 x2 x3] -> [x2 x3 x1].
func (s *stack) RotN(n int) error {
	if n < 1 {
		return scriptErrorf(ErrInvalidStackOperation, "attempt to rotate %d stack items", n)
	}
	entry := 3*n - 1
	for i := n; i > 0; i-- {
		so, err := s.nipN(entry)
		if err != nil {
			return err
		}
		s.PushByteArray(so)
	}
	return nil
}

// SwapN swaps the top n items with the n below them.
func (s *stack) SwapN(n int) error {
	if n < 1 {
		return scriptErrorf(ErrInvalidStackOperation, "attempt to swap %d stack items", n)
	}
	entry := 2*n - 1
	for i := n; i > 0; i-- {
		so, err := s.nipN(entry)
		if err != nil {
			return err
		}
		s.PushByteArray(so)
	}
	return nil
}

// OverN copies the n items below the top n onto the top.
func (s *stack) OverN(n int) error {
	if n < 1 {
		return scriptErrorf(ErrInvalidStackOperation, "attempt to perform over on %d stack items", n)
	}
	entry := 2*n - 1
	for ; n > 0; n-- {
		so, err := s.PeekByteArray(entry)
		if err != nil {
			return err
		}
		s.PushByteArray(so)
	}
	return nil
}

// PickN copies the item n deep onto the top.
func (s *stack) PickN(n int) error {
	so, err := s.PeekByteArray(n)
	if err != nil {
		return err
	}
	s.PushByteArray(so)
	return nil
}

// RollN moves the item n deep onto the top.
func (s *stack) RollN(n int) error {
	so, err := s.nipN(n)
	if err != nil {
		return err
	}
	s.PushByteArray(so)
	return nil
}
