package device

// SubdeviceType selects the child driver that services a session's requests
type SubdeviceType uint32

const (
	// SubdeviceTypeDefault is the graphics child driver
	SubdeviceTypeDefault SubdeviceType = iota
	SubdeviceTypeMedia
	SubdeviceTypeHostMemoryAllocator
	SubdeviceTypeSharedSlotsHostMemoryAllocator
	SubdeviceTypeVirtioGpuGraphics
)

var subdeviceTypeMapping = make(map[SubdeviceType]string)

func (t SubdeviceType) String() string {
	str, ok := subdeviceTypeMapping[t]
	if !ok {
		return "SubdeviceTypeUnknown"
	}
	return str
}

func init() {
	subdeviceTypeMapping[SubdeviceTypeDefault] = "SubdeviceTypeDefault"
	subdeviceTypeMapping[SubdeviceTypeMedia] = "SubdeviceTypeMedia"
	subdeviceTypeMapping[SubdeviceTypeHostMemoryAllocator] = "SubdeviceTypeHostMemoryAllocator"
	subdeviceTypeMapping[SubdeviceTypeSharedSlotsHostMemoryAllocator] = "SubdeviceTypeSharedSlotsHostMemoryAllocator"
	subdeviceTypeMapping[SubdeviceTypeVirtioGpuGraphics] = "SubdeviceTypeVirtioGpuGraphics"
}
