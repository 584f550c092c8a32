package shared

// PostingSweepLockKey guards the posting sweep so one worker scans at a time.
const PostingSweepLockKey = "integration:posting:sweep:lease"
