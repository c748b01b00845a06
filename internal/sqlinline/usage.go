package sqlinline

const QInsertUsageEvent = `--sql e2d8b4f6-7a1c-4e3b-9d5f-2c8a6e4b1d7f
insert into usage_events(id, user_id, request_id, event_type, success, latency_ms, country, properties, created_at)
values (gen_random_uuid(), $1::uuid, nullif($2::text, '')::uuid, $3::text, $4::boolean, $5::int, nullif($6::text, ''), coalesce($7::jsonb, '{}'::jsonb), now());
`

const QStats24h = `--sql a6f3c9e1-5b8d-4f7a-8e2c-1d9b4a6f3e8c
select
  count(*) filter (where event_type = 'IMAGE_GEN' and success)  as images_succeeded,
  count(*) filter (where event_type = 'VIDEO_GEN' and success)  as videos_succeeded,
  count(*) filter (where success)                               as succeeded,
  count(*) filter (where not success)                           as failed
from usage_events
where created_at > now() - interval '24 hours';
`
