package gate

// loadGDT loads the descriptor table described by gdtr via LGDT.
func loadGDT(gdtr *DescriptorTablePointer)

// reloadSegments loads dataSelector into DS, ES and SS and performs a far
// return to reload CS with codeSelector.
func reloadSegments(codeSelector, dataSelector uint16)

// loadTSS installs the task state segment referenced by selector via LTR.
func loadTSS(selector uint16)

// enterUserMode sets DS and ES to dataSelector, loads stack into RSP and
// executes IRETQ with a forged frame (dataSelector, current RSP, RFLAGS,
// codeSelector, entry). It never returns.
func enterUserMode(entry, stack uintptr, codeSelector, dataSelector uint16)
