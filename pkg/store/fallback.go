package store

// Fallback reads a document from Primary and, when Primary does not have it, from
// Secondary. Updates only touch Primary.
type Fallback struct {
	Primary   DocStore
	Secondary DocStore
}

func (f Fallback) Load(name string) ([]byte, error) {
	b, err := f.Primary.Load(name)
	if err != nil || b != nil {
		return b, err
	}
	return f.Secondary.Load(name)
}

func (f Fallback) Update(name string, fn func(cur []byte) ([]byte, error)) error {
	return f.Primary.Update(name, fn)
}
