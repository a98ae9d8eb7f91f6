// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

//go:build linux && amd64

package deadstop

/*
#include <signal.h>
#include <stdint.h>
#include <string.h>
#include <ucontext.h>

extern void deadstopOnSignal(int sig, uint64_t *gregs);

#define DEADSTOP_NSIG 6

static const int deadstop_signals[DEADSTOP_NSIG] = {
	SIGSEGV, SIGILL, SIGTRAP, SIGABRT, SIGFPE, SIGBUS,
};

static struct sigaction deadstop_saved[DEADSTOP_NSIG];

// The trampoline copies the mcontext register file into a flat array and
// crosses into Go. SA_RESETHAND already rearmed the default disposition,
// so a second fault inside the reporter kills the process instead of
// recursing.
static void deadstop_trampoline(int sig, siginfo_t *info, void *uctx) {
	ucontext_t *uc = (ucontext_t *)uctx;
	uint64_t gregs[23];
	int i;
	(void)info;
	for (i = 0; i < 23 && i < NGREG; i++) {
		gregs[i] = (uint64_t)uc->uc_mcontext.gregs[i];
	}
	deadstopOnSignal(sig, gregs);
}

static int deadstop_install(void) {
	struct sigaction sa;
	int i;
	memset(&sa, 0, sizeof(sa));
	sa.sa_sigaction = deadstop_trampoline;
	sa.sa_flags = SA_SIGINFO | SA_ONSTACK | SA_RESETHAND;
	sigemptyset(&sa.sa_mask);
	for (i = 0; i < DEADSTOP_NSIG; i++) {
		if (sigaction(deadstop_signals[i], &sa, &deadstop_saved[i]) != 0) {
			return -1;
		}
	}
	return 0;
}

static void deadstop_restore(void) {
	int i;
	for (i = 0; i < DEADSTOP_NSIG; i++) {
		sigaction(deadstop_signals[i], &deadstop_saved[i], NULL);
	}
}
*/
import "C"

import "github.com/pkg/errors"

// installSignalHandlers arms the trampoline for every fatal signal the
// reporter covers, saving the previous dispositions. Installing replaces
// the Go runtime's own fault handling for those signals until
// restoreSignalHandlers runs.
func installSignalHandlers() error {
	if C.deadstop_install() != 0 {
		return errors.New("sigaction failed while arming fatal signal handlers")
	}
	return nil
}

// restoreSignalHandlers puts back the dispositions saved at install
// time.
func restoreSignalHandlers() {
	C.deadstop_restore()
}
