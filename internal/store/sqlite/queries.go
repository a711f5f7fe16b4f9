package sqlite

const queryInsertEvent = `
INSERT INTO events (id, user_id, event_type, event_time, attributes, received_at)
VALUES (?, ?, ?, ?, ?, ?)
`

const queryFindFollowUpEvent = `
SELECT id, user_id, event_type, event_time, attributes, received_at
FROM events
WHERE user_id = ?
  AND event_type = ?
  AND event_time > ?
ORDER BY event_time ASC
LIMIT 1
`

const queryInsertJourney = `
INSERT INTO journeys (id, user_id, event_type, event_time, attributes, deadline, resolved, outcome, resolved_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// The IN clause is expanded per call; SQLite has no array parameters.
const queryOpenJourneysPrefix = `
SELECT id, user_id, event_type, event_time, attributes, deadline, resolved, outcome, resolved_at, created_at
FROM journeys
WHERE user_id = ?
  AND resolved = 0
  AND event_type IN (%s)
ORDER BY event_time ASC
`

const queryDueJourneys = `
SELECT id, user_id, event_type, event_time, attributes, deadline, resolved, outcome, resolved_at, created_at
FROM journeys
WHERE resolved = 0
  AND deadline <= ?
ORDER BY deadline ASC
LIMIT ?
`

const queryResolveJourney = `
UPDATE journeys
SET resolved = 1, outcome = ?, resolved_at = ?
WHERE id = ?
  AND resolved = 0
`

const queryJourneyExists = `
SELECT EXISTS (SELECT 1 FROM journeys WHERE id = ?)
`

const experimentColumns = `
    id, user_id, cohort, timing, channel, lever, offer, tone,
    message, status, created_at, sent_at, opened_at, converted_at`

const queryInsertExperiment = `
INSERT INTO experiments (id, user_id, cohort, timing, channel, lever, offer, tone, message, status, created_at, sent_at, opened_at, converted_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const queryGetExperiment = `
SELECT` + experimentColumns + `
FROM experiments
WHERE id = ?
`

const queryFindRecentExperiment = `
SELECT` + experimentColumns + `
FROM experiments
WHERE user_id = ?
  AND cohort = ?
  AND created_at >= ?
ORDER BY created_at DESC, id DESC
LIMIT 1
`

const queryLatestConvertibleExperiment = `
SELECT` + experimentColumns + `
FROM experiments
WHERE user_id = ?
  AND status IN ('sent', 'opened')
ORDER BY created_at DESC, id DESC
LIMIT 1
`

const queryMarkExperimentSent = `
UPDATE experiments
SET status = 'sent', sent_at = ?
WHERE id = ?
  AND status = 'pending'
`

const queryMarkExperimentOpened = `
UPDATE experiments
SET status = 'opened', opened_at = ?
WHERE id = ?
  AND status = 'sent'
`

const queryMarkExperimentConverted = `
UPDATE experiments
SET status = 'converted', converted_at = ?
WHERE id = ?
  AND status IN ('sent', 'opened')
`

const queryExperimentExists = `
SELECT EXISTS (SELECT 1 FROM experiments WHERE id = ?)
`

const queryExperimentTotals = `
SELECT COUNT(*), COUNT(sent_at), COUNT(opened_at), COUNT(converted_at)
FROM experiments
`

const queryInsertScheduledSend = `
INSERT INTO scheduled_sends (id, experiment_id, user_id, send_at, status, attempts, last_error, next_attempt_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const queryDueScheduledSends = `
SELECT id, experiment_id, user_id, send_at, status, attempts, last_error, next_attempt_at, created_at
FROM scheduled_sends
WHERE status = 'pending'
  AND next_attempt_at <= ?
ORDER BY next_attempt_at ASC
LIMIT ?
`

const queryMarkSendDelivered = `
UPDATE scheduled_sends
SET status = 'sent', delivered_at = ?
WHERE id = ?
  AND status = 'pending'
`

const queryRecordSendFailure = `
UPDATE scheduled_sends
SET attempts = attempts + 1,
    last_error = ?,
    next_attempt_at = ?,
    status = CASE WHEN ? THEN 'dead' ELSE status END
WHERE id = ?
`

const querySendExists = `
SELECT EXISTS (SELECT 1 FROM scheduled_sends WHERE id = ?)
`

const queryIncrementComboSent = `
INSERT INTO combo_stats (combo_key, timing, channel, lever, offer, sent_count, converted_count, updated_at)
VALUES (?, ?, ?, ?, ?, 1, 0, ?)
ON CONFLICT (combo_key) DO UPDATE
SET sent_count = sent_count + 1,
    updated_at = excluded.updated_at
`

const queryIncrementComboConverted = `
UPDATE combo_stats
SET converted_count = converted_count + 1,
    updated_at = ?
WHERE combo_key = ?
  AND converted_count < sent_count
`

const queryComboStatExists = `
SELECT EXISTS (SELECT 1 FROM combo_stats WHERE combo_key = ?)
`

const queryListComboStats = `
SELECT combo_key, timing, channel, lever, offer, sent_count, converted_count, updated_at
FROM combo_stats
ORDER BY combo_key ASC
`
