package postgres

const queryInsertEvent = `
INSERT INTO events (id, user_id, event_type, event_time, attributes, received_at)
VALUES ($1, $2, $3, $4, $5, $6)
`

const queryFindFollowUpEvent = `
SELECT id, user_id, event_type, event_time, attributes, received_at
FROM events
WHERE user_id = $1
  AND event_type = $2
  AND event_time > $3
ORDER BY event_time ASC
LIMIT 1
`

const queryInsertJourney = `
INSERT INTO journeys (id, user_id, event_type, event_time, attributes, deadline, resolved, outcome, resolved_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

const queryOpenJourneys = `
SELECT id, user_id, event_type, event_time, attributes, deadline, resolved, outcome, resolved_at, created_at
FROM journeys
WHERE user_id = $1
  AND resolved = FALSE
  AND event_type = ANY($2)
ORDER BY event_time ASC
`

const queryDueJourneys = `
SELECT id, user_id, event_type, event_time, attributes, deadline, resolved, outcome, resolved_at, created_at
FROM journeys
WHERE resolved = FALSE
  AND deadline <= $1
ORDER BY deadline ASC
LIMIT $2
`

const queryResolveJourney = `
UPDATE journeys
SET resolved = TRUE, outcome = $1, resolved_at = $2
WHERE id = $3
  AND resolved = FALSE
`

const queryJourneyExists = `
SELECT EXISTS (SELECT 1 FROM journeys WHERE id = $1)
`

const experimentColumns = `
    id, user_id, cohort, timing, channel, lever, offer, tone,
    message, status, created_at, sent_at, opened_at, converted_at`

const queryInsertExperiment = `
INSERT INTO experiments (id, user_id, cohort, timing, channel, lever, offer, tone, message, status, created_at, sent_at, opened_at, converted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
`

const queryGetExperiment = `
SELECT` + experimentColumns + `
FROM experiments
WHERE id = $1
`

const queryFindRecentExperiment = `
SELECT` + experimentColumns + `
FROM experiments
WHERE user_id = $1
  AND cohort = $2
  AND created_at >= $3
ORDER BY created_at DESC, id DESC
LIMIT 1
`

const queryLatestConvertibleExperiment = `
SELECT` + experimentColumns + `
FROM experiments
WHERE user_id = $1
  AND status IN ('sent', 'opened')
ORDER BY created_at DESC, id DESC
LIMIT 1
`

const queryMarkExperimentSent = `
UPDATE experiments
SET status = 'sent', sent_at = $1
WHERE id = $2
  AND status = 'pending'
`

const queryMarkExperimentOpened = `
UPDATE experiments
SET status = 'opened', opened_at = $1
WHERE id = $2
  AND status = 'sent'
`

const queryMarkExperimentConverted = `
UPDATE experiments
SET status = 'converted', converted_at = $1
WHERE id = $2
  AND status IN ('sent', 'opened')
`

const queryExperimentExists = `
SELECT EXISTS (SELECT 1 FROM experiments WHERE id = $1)
`

const queryExperimentTotals = `
SELECT COUNT(*), COUNT(sent_at), COUNT(opened_at), COUNT(converted_at)
FROM experiments
`

const queryInsertScheduledSend = `
INSERT INTO scheduled_sends (id, experiment_id, user_id, send_at, status, attempts, last_error, next_attempt_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

const queryDueScheduledSends = `
SELECT id, experiment_id, user_id, send_at, status, attempts, last_error, next_attempt_at, created_at
FROM scheduled_sends
WHERE status = 'pending'
  AND next_attempt_at <= $1
ORDER BY next_attempt_at ASC
LIMIT $2
`

const queryMarkSendDelivered = `
UPDATE scheduled_sends
SET status = 'sent', delivered_at = $1
WHERE id = $2
  AND status = 'pending'
`

const queryRecordSendFailure = `
UPDATE scheduled_sends
SET attempts = attempts + 1,
    last_error = $1,
    next_attempt_at = $2,
    status = CASE WHEN $3 THEN 'dead' ELSE status END
WHERE id = $4
`

const querySendExists = `
SELECT EXISTS (SELECT 1 FROM scheduled_sends WHERE id = $1)
`

const queryIncrementComboSent = `
INSERT INTO combo_stats (combo_key, timing, channel, lever, offer, sent_count, converted_count, updated_at)
VALUES ($1, $2, $3, $4, $5, 1, 0, $6)
ON CONFLICT (combo_key) DO UPDATE
SET sent_count = combo_stats.sent_count + 1,
    updated_at = EXCLUDED.updated_at
`

const queryIncrementComboConverted = `
UPDATE combo_stats
SET converted_count = converted_count + 1,
    updated_at = $1
WHERE combo_key = $2
  AND converted_count < sent_count
`

const queryComboStatExists = `
SELECT EXISTS (SELECT 1 FROM combo_stats WHERE combo_key = $1)
`

const queryListComboStats = `
SELECT combo_key, timing, channel, lever, offer, sent_count, converted_count, updated_at
FROM combo_stats
ORDER BY combo_key ASC
`
