package bootheader

// FieldInfo is one named range of an encoded record.
type FieldInfo struct {
	Name   string
	Offset int
	Size   int
	Data   []byte
}

// IsZero reports whether every byte of the field is zero.
func (f FieldInfo) IsZero() bool {
	for _, b := range f.Data {
		if b != 0 {
			return false
		}
	}
	return true
}

// Describe lists every field of the full record with absolute offsets.
func (r *Record) Describe() ([]FieldInfo, error) {
	data, err := r.MarshalBinary()
	if err != nil {
		return nil, err
	}

	fields := []field{fMagic, fMagicPad, fParamChecksum}
	for _, f := range blockFields {
		f.offset += fParams.offset
		fields = append(fields, f)
	}

	infos := make([]FieldInfo, 0, len(fields))
	for _, f := range fields {
		if err := checkRange(len(data), f); err != nil {
			return nil, err
		}
		infos = append(infos, FieldInfo{
			Name:   f.name,
			Offset: f.offset,
			Size:   f.size,
			Data:   data[f.offset:f.end()],
		})
	}
	return infos, nil
}
