package addrspace

import "strings"

// ProviderCreateFlags indicate specific provider behaviors to activate or deactivate
type ProviderCreateFlags int32

var providerCreateFlagsMapping = make(map[ProviderCreateFlags]string)

func (f ProviderCreateFlags) Register(str string) {
	providerCreateFlagsMapping[f] = str
}

func (f ProviderCreateFlags) String() string {
	if f == 0 {
		return "None"
	}

	var names []string
	for bit := ProviderCreateFlags(1); bit != 0 && bit <= f; bit <<= 1 {
		if f&bit == 0 {
			continue
		}
		name, ok := providerCreateFlagsMapping[bit]
		if !ok {
			name = "Unknown"
		}
		names = append(names, name)
	}
	return strings.Join(names, "|")
}

const (
	// ProviderCreateExternallySynchronized ensures that this provider and all blocks allocated from it
	// will not be synchronized internally. The consumer must guarantee that each Block is used from
	// only one goroutine at a time.
	ProviderCreateExternallySynchronized ProviderCreateFlags = 1 << iota
)

func init() {
	ProviderCreateExternallySynchronized.Register("ProviderCreateExternallySynchronized")
}

// mappingKind records whether a Block owns its region exclusively or shares it with other guests
type mappingKind byte

const (
	mappingExclusive mappingKind = iota
	mappingShared
)

var mappingKindMapping = make(map[mappingKind]string)

func (k mappingKind) String() string {
	str, ok := mappingKindMapping[k]
	if !ok {
		return "Unknown"
	}
	return str
}

func init() {
	mappingKindMapping[mappingExclusive] = "Exclusive"
	mappingKindMapping[mappingShared] = "Shared"
}

type handleKind byte

const (
	handleUnopened handleKind = iota
	handleDevice
	handleChild
	handleConsumed
	handleClosed
)

var handleKindMapping = make(map[handleKind]string)

func (k handleKind) String() string {
	str, ok := handleKindMapping[k]
	if !ok {
		return "Unknown"
	}
	return str
}

func init() {
	handleKindMapping[handleUnopened] = "Unopened"
	handleKindMapping[handleDevice] = "Device"
	handleKindMapping[handleChild] = "Child"
	handleKindMapping[handleConsumed] = "Consumed"
	handleKindMapping[handleClosed] = "Closed"
}
