// Package mem provides the byte-addressable backing store that descriptors
// and transfer payloads live in.
package mem

import (
	"errors"
	"fmt"
	"sync"
)

// ErrOutOfRange is returned when an access crosses the storage capacity.
var ErrOutOfRange = errors.New("accessing physical address beyond the storage capacity")

// A Storage keeps the data of the guest system.
//
// The storage manages the data in units, similar to pages. Units that are
// never touched by Read or Write are not allocated. A Storage is safe for
// concurrent use; the DMA driver writes descriptors while the controller
// model copies payloads.
type Storage struct {
	sync.RWMutex

	unitSize uint64
	capacity uint64
	data     map[uint64][]byte
}

// NewStorage creates a storage object with the specified capacity
func NewStorage(capacity uint64) *Storage {
	return &Storage{
		unitSize: 4096,
		capacity: capacity,
		data:     make(map[uint64][]byte),
	}
}

// Capacity returns the number of addressable bytes.
func (s *Storage) Capacity() uint64 {
	return s.capacity
}

func (s *Storage) checkRange(address, length uint64) error {
	if address >= s.capacity || length > s.capacity-address {
		return fmt.Errorf("%w: [0x%x, 0x%x) capacity 0x%x",
			ErrOutOfRange, address, address+length, s.capacity)
	}

	return nil
}

// unit returns the storage unit that covers address. When create is false
// and the unit has never been written, nil is returned.
func (s *Storage) unit(address uint64, create bool) []byte {
	baseAddr, _ := s.parseAddress(address)
	unit, ok := s.data[baseAddr]
	if !ok && create {
		unit = make([]byte, s.unitSize)
		s.data[baseAddr] = unit
	}

	return unit
}

func (s *Storage) parseAddress(addr uint64) (baseAddr, inUnitAddr uint64) {
	inUnitAddr = addr % s.unitSize
	baseAddr = addr - inUnitAddr
	return
}

// Read returns a copy of length bytes starting at address. Bytes that were
// never written read as zero.
func (s *Storage) Read(address uint64, length uint64) ([]byte, error) {
	if length == 0 {
		return []byte{}, nil
	}

	if err := s.checkRange(address, length); err != nil {
		return nil, err
	}

	s.RLock()
	defer s.RUnlock()

	res := make([]byte, length)
	currAddr := address
	dataOffset := uint64(0)

	for dataOffset < length {
		baseAddr, inUnitAddr := s.parseAddress(currAddr)
		lenToRead := min(length-dataOffset, baseAddr+s.unitSize-currAddr)

		if unit := s.unit(currAddr, false); unit != nil {
			copy(res[dataOffset:dataOffset+lenToRead],
				unit[inUnitAddr:inUnitAddr+lenToRead])
		}

		dataOffset += lenToRead
		currAddr += lenToRead
	}

	return res, nil
}

// Write stores data starting at address.
func (s *Storage) Write(address uint64, data []byte) error {
	length := uint64(len(data))
	if length == 0 {
		return nil
	}

	if err := s.checkRange(address, length); err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	currAddr := address
	dataOffset := uint64(0)

	for dataOffset < length {
		baseAddr, inUnitAddr := s.parseAddress(currAddr)
		lenToWrite := min(length-dataOffset, baseAddr+s.unitSize-currAddr)

		unit := s.unit(currAddr, true)
		copy(unit[inUnitAddr:inUnitAddr+lenToWrite],
			data[dataOffset:dataOffset+lenToWrite])

		dataOffset += lenToWrite
		currAddr += lenToWrite
	}

	return nil
}
