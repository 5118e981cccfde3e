package command

import (
	"errors"
	"fmt"

	"github.com/planlines/server/internal/core/ecs"
	"github.com/planlines/server/internal/plan"
	"github.com/planlines/server/internal/wire"
)

var (
	ErrUnknownKind     = errors.New("command: unknown kind")
	ErrVersionMismatch = errors.New("command: version mismatch")
)

type decodeFunc func(r *wire.Reader) Command

var decoders = map[Kind]decodeFunc{
	KindCreatePlan: func(r *wire.Reader) Command {
		return CreatePlan{Owner: plan.Owner(r.ReadC())}
	},
	KindAddLine: func(r *wire.Reader) Command {
		return AddLine{Plan: ecs.ID(r.ReadDU()), Count: r.ReadDU(), Payload: r.ReadBlob()}
	},
	KindChangeVisibility: func(r *wire.Reader) Command {
		return ChangeVisibility{Plan: ecs.ID(r.ReadDU()), VisibleByAll: r.ReadBool()}
	},
	KindRemovePlan: func(r *wire.Reader) Command {
		return RemovePlan{Plan: ecs.ID(r.ReadDU())}
	},
	KindRemoveLine: func(r *wire.Reader) Command {
		return RemoveLine{Plan: ecs.ID(r.ReadDU()), Index: r.ReadDU()}
	},
}

// Append writes cmd's wire form, [kind u8][version u16][params], to w.
func Append(w *wire.Writer, cmd Command) {
	tr := traits[cmd.Kind()]
	w.WriteC(byte(cmd.Kind()))
	w.WriteH(tr.Version)
	cmd.Encode(w)
}

// Encode returns cmd's wire form.
func Encode(cmd Command) []byte {
	w := wire.NewWriter()
	Append(w, cmd)
	return w.Bytes()
}

// Read decodes one command from r.
func Read(r *wire.Reader) (Command, error) {
	k := Kind(r.ReadC())
	ver := r.ReadH()
	if err := r.Err(); err != nil {
		return nil, err
	}
	dec, ok := decoders[k]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, k)
	}
	if want := traits[k].Version; ver != want {
		return nil, fmt.Errorf("%w: %s v%d, want v%d", ErrVersionMismatch, k, ver, want)
	}
	cmd := dec(r)
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", k, err)
	}
	return cmd, nil
}

// Decode parses a buffer produced by Encode. Trailing bytes are an error.
func Decode(data []byte) (Command, error) {
	r := wire.NewReader(data)
	cmd, err := Read(r)
	if err != nil {
		return nil, err
	}
	if n := r.Remaining(); n != 0 {
		return nil, fmt.Errorf("decode %s: %d trailing bytes", cmd.Kind(), n)
	}
	return cmd, nil
}
