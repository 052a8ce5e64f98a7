package flash

import (
	"strings"
	"testing"
	"time"

	"github.com/moffa90/go-flashalgo/simulator"
	"github.com/moffa90/go-flashalgo/target"
	"github.com/retroenv/retrogolib/assert"
)

const (
	mainImage = "AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8="
	extImage  = "ICEiIyQlJicoKSorLC0uLzAxMjM0NTY3ODk6Ozw9Pj8="
	altImage  = "QEFCQ0RFRkdISUpLTE1OT1BRUlNUVVZXWFlaW1xdXl8="
)

const armCore = `
      - name: main
        type: armv7em
        core_access_options:
          Arm: { ap: 0, psel: 0 }`

const mainRAM = `
      - Ram:
          range: { start: 0x20000000, end: 0x20004000 }
          cores: [main]`

const mainFlash = `
      - Flash:
          range: { start: 0x0, end: 0x2000 }
          is_boot_memory: true
          cores: [main]`

const testFamily = `
name: TestFamily
variants:
  - name: SINGLE
    cores:` + armCore + `
    memory_map:` + mainRAM + mainFlash + `
    flash_algorithms: [main_algo]

  - name: MULTI
    cores:` + armCore + `
    memory_map:
      - Ram:
          range: { start: 0x20000000, end: 0x20010000 }
          cores: [main]
      - Ram:
          range: { start: 0x30000000, end: 0x30001000 }
          cores: [main]` + mainFlash + `
      - Flash:
          range: { start: 0x2000, end: 0x3000 }
          cores: [main]
    flash_algorithms: [main_algo, ext_algo]

  - name: AMBIG
    cores:` + armCore + `
    memory_map:` + mainRAM + mainFlash + `
    flash_algorithms: [main_algo, alt_algo]

  - name: NODEF
    cores:` + armCore + `
    memory_map:` + mainRAM + mainFlash + `
    flash_algorithms: [alt_algo, alt2_algo]

  - name: TWODEF
    cores:` + armCore + `
    memory_map:` + mainRAM + mainFlash + `
    flash_algorithms: [main_algo, main2_algo]

  - name: NOALG
    cores:` + armCore + `
    memory_map:` + mainRAM + mainFlash + `
    flash_algorithms: [ext_algo]

  - name: TINYRAM
    cores:` + armCore + `
    memory_map:
      - Ram:
          range: { start: 0x20000000, end: 0x20000100 }
          cores: [main]` + mainFlash + `
    flash_algorithms: [main_algo]

  - name: RISCV
    cores:
      - name: main
        type: riscv
    memory_map:
      - Ram:
          range: { start: 0x80000000, end: 0x80004000 }
          cores: [main]` + mainFlash + `
    flash_algorithms: [main_algo]

  - name: SPLIT
    cores:` + armCore + `
    memory_map:` + mainRAM + `
      - Flash:
          range: { start: 0x0, end: 0x1000 }
          is_boot_memory: true
          cores: [main]
      - Flash:
          range: { start: 0x1000, end: 0x2000 }
          cores: [main]
    flash_algorithms: [main_algo]

flash_algorithms:
  - name: main_algo
    default: true
    instructions: ` + mainImage + `
    pc_init: 0x1
    pc_uninit: 0x5
    pc_program_page: 0x9
    pc_erase_sector: 0xd
    pc_erase_all: 0x11
    data_section_offset: 0x18
    flash_properties:
      address_range: { start: 0x0, end: 0x2000 }
      page_size: 0x40
      erased_byte_value: 0xff
      program_page_timeout: 100
      erase_sector_timeout: 500
      sectors:
        - { size: 0x200, address: 0x0 }

  - name: main2_algo
    default: true
    instructions: ` + altImage + `
    pc_init: 0x1
    pc_uninit: 0x5
    pc_program_page: 0x9
    pc_erase_sector: 0xd
    data_section_offset: 0x18
    flash_properties:
      address_range: { start: 0x1000, end: 0x2000 }
      page_size: 0x40
      erased_byte_value: 0xff
      program_page_timeout: 100
      erase_sector_timeout: 500
      sectors:
        - { size: 0x200, address: 0x0 }

  - name: alt_algo
    instructions: ` + altImage + `
    pc_init: 0x1
    pc_uninit: 0x5
    pc_program_page: 0x9
    pc_erase_sector: 0xd
    data_section_offset: 0x18
    flash_properties:
      address_range: { start: 0x0, end: 0x2000 }
      page_size: 0x100
      erased_byte_value: 0xff
      program_page_timeout: 100
      erase_sector_timeout: 500
      sectors:
        - { size: 0x1000, address: 0x0 }

  - name: alt2_algo
    instructions: ` + extImage + `
    pc_init: 0x1
    pc_uninit: 0x5
    pc_program_page: 0x9
    pc_erase_sector: 0xd
    data_section_offset: 0x18
    flash_properties:
      address_range: { start: 0x0, end: 0x1000 }
      page_size: 0x100
      erased_byte_value: 0xff
      program_page_timeout: 100
      erase_sector_timeout: 500
      sectors:
        - { size: 0x1000, address: 0x0 }

  - name: ext_algo
    instructions: ` + extImage + `
    pc_init: 0x3
    pc_uninit: 0x7
    pc_program_page: 0xb
    pc_erase_sector: 0xf
    data_section_offset: 0x1c
    flash_properties:
      address_range: { start: 0x2000, end: 0x3000 }
      page_size: 0x100
      erased_byte_value: 0xff
      program_page_timeout: 50
      erase_sector_timeout: 250
      sectors:
        - { size: 0x1000, address: 0x0 }
`

type fakeClock struct {
	t      time.Time
	slept  time.Duration
	sleeps int
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(d time.Duration) {
	c.t = c.t.Add(d)
	c.slept += d
	c.sleeps++
}

func loadCatalog(t *testing.T) *target.Catalog {
	t.Helper()
	cat, err := target.Load(strings.NewReader(testFamily))
	assert.NoError(t, err)
	return cat
}

func variant(t *testing.T, cat *target.Catalog, name string) *target.Variant {
	t.Helper()
	v, ok := cat.Variant(name)
	assert.True(t, ok, "variant %s missing", name)
	return v
}

// newTestFlasher returns a flasher driving a simulator of the named variant
// with a fake clock.
func newTestFlasher(t *testing.T, name string, opts ...Option) (*Flasher, *simulator.Target, *fakeClock) {
	t.Helper()
	cat := loadCatalog(t)
	sim := simulator.New(variant(t, cat, name))
	f := New(sim, cat, opts...)
	clk := newFakeClock()
	f.clock = clk
	return f, sim, clk
}

func pattern(size int, seed byte) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = seed + byte(i*7)
	}
	return b
}
