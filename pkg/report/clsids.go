package report

// clsids maps well-known COM class identifiers to readable names. Used to
// turn CoCreateInstance arguments and registry GUIDs into something an
// operator can act on. Keys are upper-case, without braces.
var clsids = map[string]string{
	"0002DF01-0000-0000-C000-000000000046": "Internet Explorer (Application)",
	"00021401-0000-0000-C000-000000000046": "Shell Link (ShellLink)",
	"000209FF-0000-0000-C000-000000000046": "Microsoft Word Application",
	"00024500-0000-0000-C000-000000000046": "Microsoft Excel Application",
	"0006F03A-0000-0000-C000-000000000046": "Microsoft Outlook Application",
	"13709620-C279-11CE-A49E-444553540000": "Shell Automation Service (Shell.Application)",
	"72C24DD5-D70A-438B-8A42-98424B88AFB8": "Windows Script Host Shell Object (WScript.Shell)",
	"093FF999-1EA0-4079-9525-9614C3504B74": "Windows Script Host Network Object (WScript.Network)",
	"F935DC22-1CF0-11D0-ADB9-00C04FD58A0B": "Windows Script Host Shell Object (legacy)",
	"0D43FE01-F093-11CF-8940-00A0C9054228": "FileSystem Object (Scripting.FileSystemObject)",
	"EE09B103-97E0-11CF-978F-00A02463E06F": "Scripting Dictionary",
	"88D96A05-F192-11D4-A65F-0040963251E5": "XML HTTP Request (Msxml2.XMLHTTP.6.0)",
	"F6D90F16-9C73-11D3-B32E-00C04F990BB4": "XML HTTP Request (Msxml2.XMLHTTP)",
	"F5078F35-C551-11D3-89B9-0000F81FE221": "XML HTTP Request (Msxml2.XMLHTTP.3.0)",
	"2087C2F4-2CEF-4953-A8AB-66779B670495": "ADODB Stream",
	"00000566-0000-0010-8000-00AA006D2EA4": "ADODB Stream (legacy)",
	"00000535-0000-0010-8000-00AA006D2EA4": "ADODB Recordset",
	"0E59F1D5-1FBE-11D0-8FF2-00A0D10038BC": "Microsoft Script Control",
	"4590F811-1D3A-11D0-891F-00AA004B2E24": "WBEM Locator (WbemScripting.SWbemLocator)",
	"172BDDF8-CEEA-11D1-8B05-00600806D9B6": "WBEM Scripting Object Path",
	"76A64158-CB41-11D1-8B02-00600806D9B6": "WBEM Scripting Locator",
	"C08AFD90-F2A1-11D1-8455-00A0C91F3880": "ShellBrowserWindow",
	"9BA05972-F6A8-11CF-A442-00A0C90A8F39": "ShellWindows",
	"62112AA1-EBE4-11CF-A5FB-0020AFE7292D": "Shell Folder Shortcut",
	"3AD05575-8857-4850-9277-11B85BDB8E09": "Copy/Move/Rename/Delete Item Task",
	"75DFF2B7-6936-4C06-A8BB-676A7B00B24B": "CAB Folder",
	"BDEADF00-C265-11D0-BCED-00A0C90AB50F": "WebDAV (DocFind Command)",
	"0003000E-0000-0000-C000-000000000046": "OLE Package (Package)",
	"F20DA720-C02F-11CE-927B-0800095AE340": "OLE Package Object",
	"00022601-0000-0000-C000-000000000046": "OLE Package (legacy)",
	"0CA54D3F-CEAE-48AF-9A2B-31909CB9515D": "Windows Media Player Launcher",
	"6BF52A52-394A-11D3-B153-00C04F79FAA6": "Windows Media Player",
	"8856F961-340A-11D0-A96B-00C04FD705A2": "Microsoft Web Browser Control",
	"3050F4D8-98B5-11CF-BB82-00AA00BDCE0B": "HTML Application (HTA)",
	"25336920-03F9-11CF-8FD0-00AA00686F13": "HTML Document",
	"1F3427C8-5C10-4210-AA03-2EE45287D668": "User Pinned (Taskbar)",
	"031E4825-7B94-4DC3-B131-E946B44C8DD5": "Users Libraries",
	"D63B10C5-BB46-4990-A94F-E40B9D520160": "CoCreatableRuntimeBroker",
	"86C86720-42A0-1069-A2E8-08002B30309D": "Shell Extension (icon handler)",
	"C90250F3-4D7D-4991-9B69-A5C5BC1C2AE6": "ActiveX Installer (AxInstallService)",
	"4657278A-411B-11D2-839A-00C04FD918D0": "Drag and Drop Helper",
	"1C82EAD9-508E-11D1-8DCF-00C04FB951F9": "MSDAINITIALIZE (OLE DB)",
	"49B2791A-B1AE-4C90-9B8E-E860BA07F889": "Task Scheduler (TaskScheduler.TaskScheduler)",
	"0F87369F-A4E5-4CFC-BD3E-73E6154572DD": "Task Scheduler class",
	"000C101C-0000-0000-C000-000000000046": "Windows Installer (WindowsInstaller.Installer)",
	"4991D34B-80A1-4291-83B6-3328366B9097": "BITS (Background Intelligent Transfer)",
	"5CE34C0D-0DC9-4C1F-897C-DAA1B78CEE7C": "BITS 1.5",
}

// resolveCLSID returns the readable name for a brace-less upper-case GUID,
// or "" when unknown.
func resolveCLSID(uuid string) string {
	return clsids[uuid]
}
