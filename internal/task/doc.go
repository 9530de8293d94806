// Package task is the task manager: the control block pool, the zombie
// reaper and the public directives (create, start, delete, suspend,
// resume, restart, set/get priority, ident).
//
// Locking rules:
//   - The objects.Allocator lock guards the directory, the zombie list and
//     the reclaim bookkeeping on each Control.
//   - No Scheduler method is ever called while that lock is held.
//   - A directive that must call the scheduler after unlocking pins the
//     control block first; the reaper skips pinned zombies, so a block is
//     never recycled under a scheduler call.
//
// Identifiers whose node field names another node are routed through the
// Locator strategy (LocalOnly or the mp proxy) before any local lookup.
package task
