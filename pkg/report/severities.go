package report

// Signature names carrying no triage value. Matches are dropped before a
// finding is ever created for them.
var skippedSignatures = map[string]bool{
	"dead_host":        true,
	"has_authenticode": true,
	"network_icmp":     true,
	"network_http":     true,
	"allocates_rwx":    true,
	"has_pdb":          true,
}

// Signature names whose evidence markers carry literal indicators worth
// surfacing verbatim (URLs, paths, command lines, registry values).
var iocSignatures = map[string]bool{
	"dropper":                 true,
	"suspicious_write_exe":    true,
	"suspicious_process":      true,
	"uses_windows_utilities":  true,
	"persistence_autorun":     true,
}

// unknownSignatureHeuristic is assigned to signature names absent from the
// static table below. Such names are logged so operators notice new
// backend signatures, but the finding is still emitted.
const unknownSignatureHeuristic = 3

// signatureHeuristics assigns a heuristic identifier to known behavioral
// signature names. Severity is roughly 0-5 with 0 least severe.
var signatureHeuristics = map[string]int{
	"creates_doc":              2,
	"creates_exe":              4,
	"creates_hidden_file":      5,
	"creates_shortcut":         2,
	"console_output":           1,
	"dropper":                  9,
	"exec_crash":               2,
	"locates_sniffer":          6,
	"injection_runpe":          10,
	"injection_createremotethread": 10,
	"persistence_autorun":      9,
	"raises_exception":         1,
	"recon_fingerprint":        7,
	"recon_programs":           6,
	"sniffer_winpcap":          8,
	"stealth_hiddenreg":        8,
	"stealth_hidden_extension": 7,
	"stealth_window":           5,
	"suspicious_process":       8,
	"suspicious_write_exe":     9,
	"uses_windows_utilities":   6,
	"packer_entropy":           4,
	"packer_upx":               5,
	"pe_features":              2,
	"peid_packer":              4,
	"polymorphic":              8,
	"deletes_self":             8,
	"deletes_shadow_copies":    11,
	"disables_security":        11,
	"antivm_generic_bios":      7,
	"antivm_generic_disk":      7,
	"antivm_generic_scsi":      7,
	"antivm_vbox_keys":         7,
	"antivm_vmware_keys":       7,
	"antisandbox_sleep":        6,
	"antisandbox_idletime":     6,
	"antisandbox_mouse_hook":   7,
	"antidbg_windows":          6,
	"antidbg_devices":          7,
	"bypass_firewall":          10,
	"modifies_hostfile":        10,
	"modifies_proxy":           8,
	"modifies_certs":           9,
	"network_bind":             5,
	"network_cnc_http":         11,
	"network_dns_blockchain":   9,
	"network_dns_suspicious":   8,
	"network_dns_txt_lookup":   6,
	"network_document_file":    7,
	"network_downloader_exe":   10,
	"network_fake_useragent":   8,
	"network_irc":              9,
	"network_smtp":             9,
	"network_tor":              10,
	"ransomware_extensions":    12,
	"ransomware_files":         12,
	"ransomware_message":       12,
	"infostealer_browser":      11,
	"infostealer_bitcoin":      11,
	"infostealer_ftp":          10,
	"infostealer_im":           10,
	"infostealer_keylog":       11,
	"infostealer_mail":         10,
	"rat_nanocore":             12,
	"rat_pcclient":             12,
	"rat_spynet":               12,
	"banker_zeus_mutex":        12,
	"banker_zeus_url":          12,
	"bitcoin_opencl":           9,
	"cryptomining_stratum_command": 10,
	"worm_phorpiex":            12,
	"trojan_redosru":           12,
	"mimics_filetime":          6,
	"mimics_agent":             6,
	"mimics_icon":              7,
	"origin_langid":            4,
	"origin_resource_langid":   4,
	"office_security":          9,
	"office_macro":             7,
	"powershell_bitstransfer":  9,
	"powershell_download":      10,
	"powershell_empire":        12,
	"powershell_unicorn":       12,
	"spoofs_procname":          8,
	"system_account_discovery": 6,
	"terminates_remote_process": 7,
	"internet_dropper":         10,
}

// signatureHeuristic returns the heuristic identifier for a signature name
// and whether the name was known to the static table.
func signatureHeuristic(name string) (int, bool) {
	if id, ok := signatureHeuristics[name]; ok {
		return id, true
	}
	return unknownSignatureHeuristic, false
}
