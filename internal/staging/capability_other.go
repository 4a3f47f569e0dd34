//go:build !unix

package staging

type noopCapability struct{}

func platformCapability() Capability { return noopCapability{} }

func (noopCapability) Trust(string) error { return nil }
