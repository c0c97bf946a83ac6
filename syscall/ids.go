package syscall

// Syscall ids, matching original_source's defines::syscall numbering
// (itself Linux's generic RISC-V syscall table) so a statically linked
// libc built against that ABI needs no translation (spec §6).
const (
	idGetcwd         = 17
	idDup            = 23
	idDup3           = 24
	idFcntl64        = 25
	idIoctl          = 29
	idMkdirat        = 34
	idUnlinkat       = 35
	idUmount         = 39
	idMount          = 40
	idStatfs64       = 43
	idFaccessat      = 48
	idChdir          = 49
	idOpenat         = 56
	idClose          = 57
	idPipe2          = 59
	idGetdents64     = 61
	idLseek          = 62
	idRead           = 63
	idWrite          = 64
	idReadv          = 65
	idWritev         = 66
	idSendfile64     = 71
	idPpoll          = 73
	idNewfstatat     = 79
	idNewfstat       = 80
	idUtimensat      = 88
	idExit           = 93
	idExitGroup      = 94
	idSetTidAddress  = 96
	idNanosleep      = 101
	idClockGettime   = 113
	idSyslog         = 116
	idSchedYield     = 124
	idKill           = 129
	idRtSigaction    = 134
	idRtSigprocmask  = 135
	idRtSigreturn    = 139
	idSetpriority    = 140
	idTimes          = 153
	idSetpgid        = 154
	idGetpgid        = 155
	idUname          = 160
	idGetTimeOfDay   = 169
	idGetpid         = 172
	idGetppid        = 173
	idGetuid         = 174
	idGeteuid        = 175
	idGetgid         = 176
	idGetegid        = 177
	idGettid         = 178
	idSysinfo        = 179
	idBrk            = 214
	idMunmap         = 215
	idClone          = 220
	idExecve         = 221
	idMmap           = 222
	idWait4          = 260
	idRenameat2      = 276
)
