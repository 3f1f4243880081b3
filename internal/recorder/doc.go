/*
Recorder journals a live session in Write Ahead Log way.

# Module
  - writer: bounded queue, segment rotation, CRC32C checksums, periodic fsync
  - replayer: file-order playback with optional pacing

# Source
  - ticks and sealed bars from the engine
  - order intents, risk decisions and acks from the safe broker
  - fills and drift records from the reconciler

# Produce
  - WAL segments read by portfolio recovery, replay feeds and the replay tool
*/
package recorder
